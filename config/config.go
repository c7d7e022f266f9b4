// Package config decodes the bridge's JSON configuration document into
// the shapes target.New and the rest of the composition root need.
package config

import (
	"encoding/json"
	"io/ioutil"

	"github.com/juju/errors"

	"github.com/riscv-debug/bridge/target"
)

// CoreEntry is one core's configuration entry.
type CoreEntry struct {
	DbgUnitAddr uint32 `json:"dbg_unit_addr"`
}

// ClusterEntry is one cluster's configuration entry, describing its
// power/control behavior and the cores it contains.
type ClusterEntry struct {
	ClusterID     uint32      `json:"cluster_id"`
	Kind          string      `json:"kind"` // "fc" | "cluster"
	Power         string      `json:"power"` // "always" | "bypass_reg"
	BypassRegAddr uint32      `json:"bypass_reg_addr,omitempty"`
	BypassBit     uint        `json:"bypass_bit,omitempty"`
	Ctrl          string      `json:"ctrl"` // "single" | "xtrigger"
	XTriggerBase  uint32      `json:"xtrigger_base,omitempty"`
	CacheFlushReg *uint32     `json:"cache_flush_reg,omitempty"`
	Cores         []CoreEntry `json:"cores"`
}

// Chain carries the JTAG chain discovery options. ForceDRLen32 forces the
// measured DR length to 32 bits (a single device); discovery still runs.
type Chain struct {
	ForceDRLen32 bool `json:"force_dr_len_32"`
}

// Cable is the proxy cable's TCP connection parameters.
type Cable struct {
	ProxyAddr string `json:"proxy_addr"`
}

// Listeners carries the two TCP ports the bridge exposes.
type Listeners struct {
	RSPPort int `json:"rsp_port"`
	RawPort int `json:"raw_port"`
}

// Bridge is the top-level configuration document, mirroring
// BridgeState(config_string)'s single JSON blob.
type Bridge struct {
	Chain     Chain          `json:"chain"`
	Cable     Cable          `json:"cable"`
	Clusters  []ClusterEntry `json:"clusters"`
	MISA      uint32         `json:"misa,omitempty"`
	Listeners Listeners      `json:"listeners"`

	DebugStructAddr uint32 `json:"debug_struct_addr"`
	AvailableAddr   uint32 `json:"available_addr,omitempty"`

	// Capabilities is appended verbatim to qSupported's fixed feature
	// set, letting a deployment advertise extra GDB capabilities without
	// a code change.
	Capabilities string `json:"capabilities,omitempty"`
}

// Load reads and parses the configuration document at path.
func Load(path string) (*Bridge, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes a configuration document from memory, mirroring
// BridgeState's load-from-string entry point.
func Parse(data []byte) (*Bridge, error) {
	var b Bridge
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Annotatef(err, "parsing bridge config")
	}
	if len(b.Clusters) == 0 {
		return nil, errors.Errorf("config: at least one cluster is required")
	}
	return &b, nil
}

// TargetConfig converts the decoded document into target.Config.
func (b *Bridge) TargetConfig() (target.Config, error) {
	cfg := target.Config{MISA: b.MISA}
	for _, ce := range b.Clusters {
		cc := target.ClusterConfig{
			ClusterID: ce.ClusterID,
			Kind:      ce.Kind,
		}
		switch ce.Power {
		case "", "always":
			cc.AlwaysPowered = true
		case "bypass_reg":
			cc.AlwaysPowered = false
			cc.BypassRegAddr = ce.BypassRegAddr
			cc.BypassBit = ce.BypassBit
		default:
			return target.Config{}, errors.Errorf("cluster %d: unknown power model %q", ce.ClusterID, ce.Power)
		}
		switch ce.Ctrl {
		case "", "single":
			cc.XTrigger = false
		case "xtrigger":
			cc.XTrigger = true
			cc.XTriggerBase = ce.XTriggerBase
		default:
			return target.Config{}, errors.Errorf("cluster %d: unknown ctrl model %q", ce.ClusterID, ce.Ctrl)
		}
		if ce.CacheFlushReg != nil {
			if int32(*ce.CacheFlushReg) < 0 {
				return target.Config{}, errors.Errorf("cluster %d: negative cache_flush_reg is not a valid address", ce.ClusterID)
			}
			cc.HasCacheFlush = true
			cc.CacheFlushReg = *ce.CacheFlushReg
		}
		for _, core := range ce.Cores {
			cc.Cores = append(cc.Cores, target.CoreConfig{DbgUnitAddr: core.DbgUnitAddr})
		}
		cfg.Clusters = append(cfg.Clusters, cc)
	}
	return cfg, nil
}
