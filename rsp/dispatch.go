package rsp

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// dispatch routes one decoded packet body to its handler and returns
// the reply body (without the leading '$'/checksum, sendPacket adds
// those) and whether the session should end after sending it.
func (c *Client) dispatch(body []byte) (reply string, disconnect bool) {
	if len(body) == 0 {
		return "", false
	}
	cmd := body[0]
	rest := string(body[1:])

	switch cmd {
	case '?':
		return c.handleQuestion(), false
	case 'g':
		return c.handleReadAllRegs(), false
	case 'p':
		return c.handleReadReg(rest), false
	case 'P':
		return c.handleWriteReg(rest), false
	case 'm':
		return c.handleMemRead(rest), false
	case 'M':
		return c.handleMemWrite(rest, false), false
	case 'X':
		return c.handleMemWrite(rest, true), false
	case 'Z':
		return c.handleBreakpoint(rest, true), false
	case 'z':
		return c.handleBreakpoint(rest, false), false
	case 'H':
		return c.handleSetThread(rest), false
	case 'c', 'C':
		return c.handleResume(cmd, rest, false), false
	case 's', 'S':
		return c.handleResume(cmd, rest, true), false
	case 'v':
		return c.handleV(rest)
	case 'q', 'Q':
		return c.handleQ(rest), false
	case 'T':
		return "OK", false
	case 'D':
		return "OK", true
	case '!':
		return "OK", false
	default:
		return "", false
	}
}

func (c *Client) handleQuestion() string {
	core, ok := c.selectedCore()
	if !ok {
		return "S" + hex2(SignalSTOP)
	}
	sig, err := coreSignal(core)
	if err != nil {
		glog.Warningf("rsp: '?' signal read: %v", err)
		return "E01"
	}
	return "S" + hex2(sig)
}

// handleReadAllRegs replies with the 32 GPRs followed by PC, each as an
// 8-hex-digit big-endian word.
func (c *Client) handleReadAllRegs() string {
	core, ok := c.selectedCore()
	if !ok {
		return strings.Repeat("0", 33*8)
	}
	gprs, err := core.GPRReadAll()
	if err != nil {
		glog.Warningf("rsp: 'g' GPR read: %v", err)
		return "E01"
	}
	pc, err := core.ActualPCRead()
	if err != nil {
		glog.Warningf("rsp: 'g' PC read: %v", err)
		return "E01"
	}
	var sb strings.Builder
	for _, v := range gprs {
		fmt.Fprintf(&sb, "%08x", v)
	}
	fmt.Fprintf(&sb, "%08x", pc)
	return sb.String()
}

const (
	regPC      = 0x20
	regCSRBase = 0x41
	regMISA    = regCSRBase + 0x301
)

func (c *Client) handleReadReg(arg string) string {
	n, err := strconv.ParseInt(arg, 16, 32)
	if err != nil {
		return "E01"
	}
	if int(n) == regMISA {
		return fmt.Sprintf("%08x", c.tgt.MISA())
	}
	core, ok := c.selectedCore()
	if !ok {
		return "E01"
	}
	switch {
	case n >= 0 && n < 32:
		v, err := core.GPRRead(int(n))
		if err != nil {
			return "E01"
		}
		return fmt.Sprintf("%08x", v)
	case int(n) == regPC:
		pc, err := core.ActualPCRead()
		if err != nil {
			return "E01"
		}
		return fmt.Sprintf("%08x", pc)
	case n >= regCSRBase:
		v, err := core.CSRRead(int(n) - regCSRBase)
		if err != nil {
			return "E01"
		}
		return fmt.Sprintf("%08x", v)
	default:
		return "E01"
	}
}

func (c *Client) handleWriteReg(arg string) string {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return "E01"
	}
	n, err := strconv.ParseInt(parts[0], 16, 32)
	if err != nil {
		return "E01"
	}
	v, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return "E01"
	}
	core, ok := c.selectedCore()
	if !ok {
		return "E01"
	}
	switch {
	case n >= 0 && n < 32:
		if err := core.GPRWrite(int(n), uint32(v)); err != nil {
			return "E01"
		}
		return "OK"
	case int(n) == 32:
		if err := core.SetNPC(uint32(v)); err != nil {
			return "E01"
		}
		return "OK"
	default:
		return "E01"
	}
}

func parseAddrLen(arg string) (addr uint32, length int, rest string, ok bool) {
	head := arg
	if idx := strings.IndexByte(arg, ':'); idx >= 0 {
		head, rest = arg[:idx], arg[idx+1:]
	}
	parts := strings.SplitN(head, ",", 2)
	if len(parts) != 2 {
		return 0, 0, "", false
	}
	a, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, "", false
	}
	l, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil || l < 0 {
		return 0, 0, "", false
	}
	return uint32(a), int(l), rest, true
}

func (c *Client) handleMemRead(arg string) string {
	addr, length, _, ok := parseAddrLen(arg)
	if !ok {
		return "E01"
	}
	buf := make([]byte, length)
	if err := c.tgt.MemRead(addr, buf); err != nil {
		glog.Warningf("rsp: 'm' read %#x+%d: %v", addr, length, err)
		return "E01"
	}
	return hex.EncodeToString(buf)
}

func (c *Client) handleMemWrite(arg string, binary bool) string {
	addr, length, data, ok := parseAddrLen(arg)
	if !ok {
		return "E01"
	}
	var buf []byte
	if binary {
		buf = []byte(data)
		if len(buf) != length {
			if len(buf) > length {
				buf = buf[:length]
			} else {
				padded := make([]byte, length)
				copy(padded, buf)
				buf = padded
			}
		}
	} else {
		decoded, err := hex.DecodeString(data)
		if err != nil {
			return "E01"
		}
		buf = decoded
	}
	if err := c.tgt.MemWrite(addr, buf); err != nil {
		glog.Warningf("rsp: mem write %#x+%d: %v", addr, length, err)
		return "E01"
	}
	return "OK"
}

func (c *Client) handleBreakpoint(arg string, insert bool) string {
	if len(arg) == 0 || arg[0] != '0' {
		return "" // only software breakpoints (kind 0) are supported
	}
	arg = strings.TrimPrefix(arg, "0,")
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) == 0 {
		return "E01"
	}
	addr, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return "E01"
	}
	var opErr error
	if insert {
		opErr = c.tgt.Breakpoints.Insert(uint32(addr))
	} else {
		opErr = c.tgt.Breakpoints.Remove(uint32(addr))
	}
	if opErr != nil {
		glog.Warningf("rsp: breakpoint op at %#x: %v", addr, opErr)
		return "E01"
	}
	return "OK"
}

func (c *Client) handleSetThread(arg string) string {
	if len(arg) < 2 {
		return "E01"
	}
	n, err := parseSignedHex(arg[1:])
	if err != nil {
		return "E01"
	}
	c.setSelectedThread(n)
	return "OK"
}

func (c *Client) handleResume(cmd byte, arg string, step bool) string {
	core, ok := c.selectedCore()
	if !ok {
		return "E01"
	}
	setPC := false
	var pc uint32
	if cmd == 'c' || cmd == 's' {
		if arg != "" {
			v, err := strconv.ParseUint(arg, 16, 32)
			if err == nil {
				setPC, pc = true, uint32(v)
			}
		}
	} else {
		// C sig[;addr] / S sig;addr: the signal itself is informational.
		if idx := strings.IndexByte(arg, ';'); idx >= 0 {
			v, err := strconv.ParseUint(arg[idx+1:], 16, 32)
			if err == nil {
				setPC, pc = true, uint32(v)
			}
		}
	}
	return c.resumeAndWait(core, step, pc, setPC)
}

// handleV implements vCont?/vCont/vKill.
func (c *Client) handleV(arg string) (string, bool) {
	switch {
	case arg == "Cont?":
		return "vCont;c;s;C;S", false
	case strings.HasPrefix(arg, "Cont"):
		return c.handleVCont(strings.TrimPrefix(arg, "Cont")), false
	case arg == "Kill" || strings.HasPrefix(arg, "Kill;"):
		if err := c.tgt.HaltAll(); err != nil {
			glog.Warningf("rsp: vKill halt: %v", err)
		}
		return "OK", false
	default:
		return "", false
	}
}

// handleVCont parses `;cmd[:tid]` segments, running prepare_resume per
// named thread (or every thread, for a segment with no tid) before the
// single resume_all + wait that follows.
func (c *Client) handleVCont(arg string) string {
	segments := strings.Split(arg, ";")
	anyStep := false
	touched := false
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		parts := strings.SplitN(seg, ":", 2)
		action := parts[0]
		step := action == "s" || action == "S"
		if action == "s" || action == "S" {
			anyStep = true
		}
		if len(parts) == 1 {
			for _, core := range c.tgt.AllCores() {
				if err := c.tgt.PrepareResume(core, step); err != nil {
					glog.Warningf("rsp: vCont prepare_resume (all): %v", err)
					return "E01"
				}
			}
			touched = true
			continue
		}
		n, err := parseSignedHex(parts[1])
		if err != nil {
			return "E01"
		}
		save := c.selectedAll
		saveT := c.selectedThread
		c.setSelectedThread(n)
		core, ok := c.selectedCore()
		c.selectedAll, c.selectedThread = save, saveT
		if !ok {
			continue
		}
		if err := c.tgt.PrepareResume(core, step); err != nil {
			glog.Warningf("rsp: vCont prepare_resume: %v", err)
			return "E01"
		}
		touched = true
	}
	_ = anyStep
	if !touched {
		return "E01"
	}
	if err := c.tgt.ResumeAll(); err != nil {
		glog.Warningf("rsp: vCont resume_all: %v", err)
		return "E01"
	}
	c.cb.callGdbTgtRes()
	return c.waitLoop()
}

func (c *Client) handleQ(arg string) string {
	switch {
	case strings.HasPrefix(arg, "Supported"):
		reply := "PacketSize=100;qXfer:features:read-;vContSupported+"
		if c.cb.Capabilities != "" {
			reply += ";" + c.cb.Capabilities
		}
		return reply
	case arg == "fThreadInfo":
		return c.threadInfoReply()
	case arg == "sThreadInfo":
		return "l"
	case strings.HasPrefix(arg, "ThreadExtraInfo,"):
		return c.threadExtraInfo(strings.TrimPrefix(arg, "ThreadExtraInfo,"))
	case arg == "C":
		id := 0
		if !c.selectedAll {
			id = c.selectedThread
		}
		return fmt.Sprintf("QC%x", id+1)
	case arg == "Attached":
		if core, ok := c.selectedCore(); ok {
			if stopped, _ := core.IsStopped(); !stopped {
				return "0"
			}
		}
		return "1"
	case strings.HasPrefix(arg, "Symbol"):
		return "OK"
	case arg == "Offsets":
		return "Text=0;Data=0;Bss=0"
	case strings.HasPrefix(arg, "Rcmd,"):
		return c.handleQRcmd(strings.TrimPrefix(arg, "Rcmd,"))
	case strings.HasPrefix(arg, "Xfer:"):
		return c.handleQXfer(strings.TrimPrefix(arg, "Xfer:"))
	default:
		return ""
	}
}

func (c *Client) threadInfoReply() string {
	cores := c.tgt.AllCores()
	if len(cores) == 0 {
		return "l"
	}
	ids := make([]string, len(cores))
	for i, core := range cores {
		ids[i] = strconv.Itoa(core.ThreadID + 1)
	}
	return "m" + strings.Join(ids, ",")
}

func (c *Client) threadExtraInfo(arg string) string {
	n, err := strconv.ParseInt(arg, 16, 32)
	if err != nil {
		return "E01"
	}
	core, ok := c.tgt.CoreByThreadID(int(n) - 1)
	if !ok {
		return "E01"
	}
	status := ""
	if !core.IsOn() {
		status = " (Off)"
	}
	text := fmt.Sprintf("Cluster %02d - Core %d%s", core.ClusterIndex, core.CoreID, status)
	return hex.EncodeToString([]byte(text))
}

func (c *Client) handleQRcmd(hexCmd string) string {
	raw, err := hex.DecodeString(hexCmd)
	if err != nil {
		return "E01"
	}
	if c.cb.QRcmd == nil {
		return "OK"
	}
	reply, err := c.cb.QRcmd(string(raw))
	if err != nil {
		glog.Warningf("rsp: qRcmd %q: %v", raw, err)
		return "E01"
	}
	return hex.EncodeToString([]byte(reply))
}

// handleQXfer parses `object:read:annex:offset,length` and forwards to
// the QXfer callback, replying with GDB's `m<data>`/`l<data>` framing.
func (c *Client) handleQXfer(arg string) string {
	parts := strings.Split(arg, ":")
	if len(parts) != 4 || parts[1] != "read" {
		return ""
	}
	object, annex, rangeStr := parts[0], parts[2], parts[3]
	rangeParts := strings.SplitN(rangeStr, ",", 2)
	if len(rangeParts) != 2 {
		return "E01"
	}
	offset, err := strconv.ParseInt(rangeParts[0], 16, 32)
	if err != nil {
		return "E01"
	}
	length, err := strconv.ParseInt(rangeParts[1], 16, 32)
	if err != nil {
		return "E01"
	}
	if c.cb.QXfer == nil {
		return "l"
	}
	data, eof, err := c.cb.QXfer(object, annex, int(offset), int(length))
	if err != nil {
		glog.Warningf("rsp: qXfer %s/%s: %v", object, annex, err)
		return "E01"
	}
	prefix := "m"
	if eof {
		prefix = "l"
	}
	return prefix + string(data)
}
