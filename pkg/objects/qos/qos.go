// Package qos implements the QoS Object (class 0x48): the DSCP values
// applied to outgoing traffic by priority class, persisted to NV storage
// the way source/src/ports/nvdata/nvqos.c does (as "urgent, scheduled,
// high, low, explicit" values), here through yaml.v3 instead of the
// original's fscanf/fprintf line format (supplemented feature).
package qos

import (
	"github.com/gridwell/enip-adapter/internal/config"
	"github.com/gridwell/enip-adapter/pkg/cip"
)

// DSCPValues are the per-traffic-class DSCP markings QoS attributes 4-8
// expose (CIP Vol. 2 §5-4.3).
type DSCPValues struct {
	Urgent   cip.USINT `yaml:"urgent"`
	Scheduled cip.USINT `yaml:"scheduled"`
	High     cip.USINT `yaml:"high"`
	Low      cip.USINT `yaml:"low"`
	Explicit cip.USINT `yaml:"explicit"`
}

// DefaultDSCP matches the original core's compiled-in defaults
// (cipqos.c: urgent=55, scheduled=47, high=43, low=31, explicit=27).
func DefaultDSCP() DSCPValues {
	return DSCPValues{Urgent: 55, Scheduled: 47, High: 43, Low: 31, Explicit: 27}
}

// Object wires a live QoS instance into a registry.
type Object struct {
	Class    *cip.Class
	instance *cip.Instance

	nvPath string
	values DSCPValues

	Dot1QTagEnable bool
}

// New creates the object, restoring values from nvPath if present.
func New(reg *cip.Registry, nvPath string) *Object {
	o := &Object{Class: cip.NewClass(cip.ClassQoS, "QoS"), nvPath: nvPath, values: DefaultDSCP()}
	if nvPath != "" {
		_ = config.LoadYAML(nvPath, &o.values)
	}
	o.instance = cip.NewInstance(1)

	o.instance.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutBOOL(cip.BOOL(o.Dot1QTagEnable)) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetBOOL()
			if err != nil {
				return err
			}
			o.Dot1QTagEnable = bool(v)
			return nil
		}})

	o.addDSCP(4, &o.values.Urgent)
	o.addDSCP(5, &o.values.Scheduled)
	o.addDSCP(6, &o.values.High)
	o.addDSCP(7, &o.values.Low)
	o.addDSCP(8, &o.values.Explicit)

	o.Class.AddInstance(o.instance)
	reg.Register(o.Class)
	return o
}

func (o *Object) addDSCP(id cip.UINT, field *cip.USINT) {
	o.instance.AddAttribute(&cip.Attribute{ID: id, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUSINT(*field) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetUSINT()
			if err != nil {
				return err
			}
			*field = v
			return o.persist()
		}})
}

func (o *Object) persist() error {
	if o.nvPath == "" {
		return nil
	}
	return config.SaveYAML(o.nvPath, &o.values)
}

// Values returns a copy of the current DSCP configuration.
func (o *Object) Values() DSCPValues { return o.values }
