package ioconn

import (
	"harnspoller/pkg/binding/signal"
	"k8s.io/klog/v2"
)

// Candidate builds one representation of a polled value.
type Candidate func() signal.Value

func onOff(b bool) Candidate      { return func() signal.Value { return signal.OnOff(b) } }
func openClosed(b bool) Candidate { return func() signal.Value { return signal.OpenClosed(b) } }
func decimal(f float64) Candidate { return func() signal.Value { return signal.Decimal(f) } }

// BitCandidates tries a polled bit as on/off then open/closed when the
// connection accepts boolean like states, and as 1 or 0 otherwise.
func (c *IOConnection) BitCandidates(bit bool) []Candidate {
	if c.SupportsBooleanLikeState() {
		return []Candidate{onOff(bit), openClosed(bit)}
	}
	if bit {
		return []Candidate{decimal(1)}
	}
	return []Candidate{decimal(0)}
}

// NumberCandidates tries a decoded register value as on/off then open/closed,
// anything but zero meaning on, when the connection accepts boolean like
// states, and as the plain number otherwise.
func (c *IOConnection) NumberCandidates(v float64) []Candidate {
	if c.SupportsBooleanLikeState() {
		return []Candidate{onOff(v != 0), openClosed(v != 0)}
	}
	return []Candidate{decimal(v)}
}

// Offer evaluates candidates in order and commits the first one that passes
// the trigger and survives the transformation. The untransformed value is
// recorded; the transformed one is returned for posting.
func (c *IOConnection) Offer(candidates []Candidate, policy DefaultPolicy) (signal.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, candidate := range candidates {
		v := candidate()
		changed := !signal.Equal(v, c.previous)
		ok, err := c.SupportsState(v, changed, policy)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			klog.V(6).InfoS("Candidate not supported", "connection", c, "value", v, "changed", changed)
			continue
		}
		out := c.Transformation.TransformState(c.AcceptedStates, v)
		if out == nil {
			continue
		}
		c.recordLocked(v)
		return out, true, nil
	}
	return nil, false, nil
}

// OfferUndefined offers UNDEF after a failed read, without transformation.
func (c *IOConnection) OfferUndefined(policy DefaultPolicy) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !signal.Equal(signal.Undefined, c.previous)
	ok, err := c.SupportsState(signal.Undefined, changed, policy)
	if err != nil || !ok {
		return false, err
	}
	c.recordLocked(signal.Undefined)
	return true, nil
}
