package manifest

import (
	"fmt"
	"time"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// Behavior names a built-in method body.
type Behavior string

const (
	BehaviorReturn      Behavior = "return"
	BehaviorEcho        Behavior = "echo"
	BehaviorIncrement   Behavior = "increment"
	BehaviorRead        Behavior = "read"
	BehaviorReject      Behavior = "reject"
	BehaviorSettleTwice Behavior = "settle_twice"
	BehaviorPanic       Behavior = "panic"
)

// ModuleSpec is one compiled `module: <Name>` entry.
type ModuleSpec struct {
	Name      string       `json:"name"`
	Constants ir.Object    `json:"constants"`
	Methods   []MethodSpec `json:"methods"`
}

// MethodSpec is one compiled method.
type MethodSpec struct {
	Name       string            `json:"name"`
	Convention module.Convention `json:"convention"`
	Arity      int               `json:"arity"`
	Optional   int               `json:"optional,omitempty"`
	Behavior   Behavior          `json:"behavior"`
	Value      ir.Value          `json:"value,omitempty"`
	Key        string            `json:"key,omitempty"`
	Limit      *int64            `json:"limit,omitempty"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Delay      time.Duration     `json:"delay,omitempty"`
}

// Descriptor returns the registry descriptor of m.
func (m MethodSpec) Descriptor() module.MethodDescriptor {
	return module.MethodDescriptor{
		Name:       m.Name,
		Convention: m.Convention,
		Arity:      m.Arity,
		Optional:   m.Optional,
	}
}

// counterKey is the counter an increment or read method works on.
func (m MethodSpec) counterKey() string {
	if m.Key != "" {
		return m.Key
	}
	return m.Name
}

func (m MethodSpec) String() string {
	return fmt.Sprintf("%s(%s, %d) -> %s", m.Name, m.Convention, m.Arity, m.Behavior)
}
