package publisher

import (
	"harnspoller/pkg/binding/signal"
	"k8s.io/klog/v2"
)

// Publisher receives item state updates.
type Publisher interface {
	PostUpdate(item string, v signal.Value)
}

// LogPublisher writes every update to the log.
type LogPublisher struct{}

func (LogPublisher) PostUpdate(item string, v signal.Value) {
	klog.V(2).InfoS("Item state updated", "item", item, "kind", v.Kind(), "value", v)
}

// Multi fans an update out to every publisher in order.
type Multi []Publisher

func (m Multi) PostUpdate(item string, v signal.Value) {
	for _, p := range m {
		if p != nil {
			p.PostUpdate(item, v)
		}
	}
}
