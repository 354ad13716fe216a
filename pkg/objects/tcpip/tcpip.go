// Package tcpip implements the TCP/IP Interface Object (class 0xF5),
// including the "safety network number" attribute hole the generic
// GetAttributeAll service must still fill with zero bytes (spec §4.2), and
// NV persistence of the interface configuration through the same yaml.v3
// dependency the QoS object uses (source/src/cip/ciptcpipinterface.c,
// supplemented feature per SPEC_FULL.md).
package tcpip

import (
	"encoding/binary"
	"net"

	"github.com/gridwell/enip-adapter/internal/config"
	"github.com/gridwell/enip-adapter/pkg/cip"
)

// InterfaceConfig is the NV-persisted subset of attribute 5 (Interface
// Configuration) and attribute 6 (Host Name).
type InterfaceConfig struct {
	IPAddress   string `yaml:"ip_address"`
	NetworkMask string `yaml:"network_mask"`
	Gateway     string `yaml:"gateway"`
	NameServer  string `yaml:"name_server"`
	NameServer2 string `yaml:"name_server2"`
	DomainName  string `yaml:"domain_name"`
	HostName    string `yaml:"host_name"`
}

func ipToU32(s string) cip.UDINT {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0
	}
	return cip.UDINT(binary.BigEndian.Uint32(ip))
}

func u32ToIP(v cip.UDINT) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return net.IP(b).String()
}

// Object wires a live TCP/IP Interface instance into a registry, with its
// interface configuration (attribute 5) and host name (attribute 6)
// persisted to nvPath on every successful set of either.
type Object struct {
	Class    *cip.Class
	instance *cip.Instance

	nvPath string
	cfg    InterfaceConfig

	// ConfigurationControl selects where the interface gets its address:
	// 0 = static (this object's own attribute 5), 1 = BOOTP, 2 = DHCP.
	ConfigurationControl cip.UDINT
}

// New creates the object, loading any existing NV file at nvPath (ignoring
// a missing file — first boot has nothing to restore).
func New(reg *cip.Registry, nvPath string, defaults InterfaceConfig) *Object {
	o := &Object{Class: cip.NewClass(cip.ClassTCPIPInterface, "TCP/IP Interface"), nvPath: nvPath, cfg: defaults}
	if nvPath != "" {
		_ = config.LoadYAML(nvPath, &o.cfg) // best effort; defaults stand on error
	}
	o.instance = cip.NewInstance(1)

	o.instance.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutDword(0x01) }}) // Status: interface configured

	o.instance.AddAttribute(&cip.Attribute{ID: 2, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutDword(0x01) }}) // Configuration Capability: BOOTP client

	o.instance.AddAttribute(&cip.Attribute{ID: 3, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUDINT(o.ConfigurationControl) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetUDINT()
			if err != nil {
				return err
			}
			o.ConfigurationControl = v
			return nil
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			// Physical Link Object path: class 0xF6 instance 1, minimal EPATH.
			var p cip.Path
			p.AddClass(cip.ClassEthernetLink)
			p.AddInstance(1)
			if err := w.PutUINT(cip.UINT(p.LenWords())); err != nil {
				return err
			}
			return w.PutBytes(p.Bytes())
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 5, Gettable: true, Settable: true, InGetAll: true,
		Encode: o.encodeInterfaceConfig,
		Decode: o.decodeInterfaceConfig,
	})

	o.instance.AddAttribute(&cip.Attribute{ID: 6, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return cip.CipString{Value: o.cfg.HostName}.Encode(w) },
		Decode: func(r *cip.Reader) error {
			s, err := cip.DecodeCipString(r)
			if err != nil {
				return err
			}
			o.cfg.HostName = s.Value
			return o.persist()
		}})

	// Attributes 7-12 are optional multicast/encapsulation-timeout
	// attributes this adapter does not implement; attribute 13, the safety
	// network number, is a documented reserved hole (spec §4.2).
	o.instance.AddAttribute(&cip.Attribute{ID: 13, InGetAll: true, GetAllDummy: 6})

	o.Class.AddInstance(o.instance)
	reg.Register(o.Class)
	return o
}

func (o *Object) encodeInterfaceConfig(w *cip.Writer) error {
	if err := w.PutUDINT(ipToU32(o.cfg.IPAddress)); err != nil {
		return err
	}
	if err := w.PutUDINT(ipToU32(o.cfg.NetworkMask)); err != nil {
		return err
	}
	if err := w.PutUDINT(ipToU32(o.cfg.Gateway)); err != nil {
		return err
	}
	if err := w.PutUDINT(ipToU32(o.cfg.NameServer)); err != nil {
		return err
	}
	if err := w.PutUDINT(ipToU32(o.cfg.NameServer2)); err != nil {
		return err
	}
	return cip.CipString{Value: o.cfg.DomainName}.Encode(w)
}

func (o *Object) decodeInterfaceConfig(r *cip.Reader) error {
	ip, err := r.GetUDINT()
	if err != nil {
		return err
	}
	mask, err := r.GetUDINT()
	if err != nil {
		return err
	}
	gw, err := r.GetUDINT()
	if err != nil {
		return err
	}
	ns1, err := r.GetUDINT()
	if err != nil {
		return err
	}
	ns2, err := r.GetUDINT()
	if err != nil {
		return err
	}
	domain, err := cip.DecodeCipString(r)
	if err != nil {
		return err
	}
	o.cfg.IPAddress = u32ToIP(ip)
	o.cfg.NetworkMask = u32ToIP(mask)
	o.cfg.Gateway = u32ToIP(gw)
	o.cfg.NameServer = u32ToIP(ns1)
	o.cfg.NameServer2 = u32ToIP(ns2)
	o.cfg.DomainName = domain.Value
	return o.persist()
}

func (o *Object) persist() error {
	if o.nvPath == "" {
		return nil
	}
	return config.SaveYAML(o.nvPath, &o.cfg)
}

// Config returns a copy of the current interface configuration.
func (o *Object) Config() InterfaceConfig { return o.cfg }
