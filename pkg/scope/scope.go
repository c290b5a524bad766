// Package scope implements the Scope Chain Compiler (design §4.5): the
// declarative/object/global lexical scope variant, the code that creates
// and enters each kind, and the generate-get/generate-set protocol that
// walks the chain to resolve a name. It only ever emits through
// pkg/ilgen's public operations, so it has no notion of raw opcodes or
// byte offsets of its own.
package scope

import (
	"github.com/ecmavm/engine/pkg/ilgen"
	"github.com/ecmavm/engine/pkg/kind"
)

// Variant tags the three scope kinds. No virtual dispatch is used — each
// case is handled by a branch inside GenerateGet/GenerateSet/CreateScope,
// following the same "tagged variant, no inheritance" idiom design §9
// prescribes for this exact type.
type Variant int

const (
	// Declarative scopes bind names directly to local slots; no runtime
	// object backs them.
	Declarative Variant = iota
	// ObjectScope is backed by a property-bearing runtime object,
	// optionally with an implicit `this` receiver (the `with` case).
	ObjectScope
	// GlobalScope is the distinguished, parent-less object scope backed by
	// the process-wide global instance.
	GlobalScope
)

// RuntimeHost is the narrow external collaborator for the runtime value
// domain (design §1): the property table, object model, and global
// instance all live on the other side of this interface.
type RuntimeHost interface {
	// PropertyToken resolves a property name to the opaque token the
	// runtime loader uses to identify it at a call site.
	PropertyToken(name string) int32
}

// Scope is one link in a lexical scope chain.
type Scope struct {
	variant Variant
	parent  *Scope
	host    RuntimeHost

	// Declarative only.
	slots map[string]int

	// ObjectScope only: whether a call resolved through this scope passes
	// the scope's backing object as the implicit `this` receiver.
	implicitReceiver bool
}

// NewDeclarativeScope creates a slot-backed scope with no runtime object.
func NewDeclarativeScope(parent *Scope) *Scope {
	return &Scope{variant: Declarative, parent: parent, slots: map[string]int{}}
}

// NewObjectScope creates a property-backed scope. implicitReceiver marks
// the `with`-style case where this scope's object becomes `this` for any
// call resolved through it.
func NewObjectScope(parent *Scope, host RuntimeHost, implicitReceiver bool) *Scope {
	return &Scope{variant: ObjectScope, parent: parent, host: host, implicitReceiver: implicitReceiver}
}

// NewGlobalScope creates the root global scope.
func NewGlobalScope(host RuntimeHost) *Scope {
	return &Scope{variant: GlobalScope, host: host}
}

// Parent returns the enclosing scope, or nil at the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Variant reports which of the three tagged cases s is.
func (s *Scope) Variant() Variant { return s.variant }

// ImplicitReceiver reports whether a call resolved through s should pass
// s's backing object as `this` (design §4.5's `with` semantics).
func (s *Scope) ImplicitReceiver() bool { return s.variant == ObjectScope && s.implicitReceiver }

// DeclareSlot allocates a new local slot for name in a declarative scope
// and records the binding. It is a programming error to call this on a
// non-declarative scope.
func (s *Scope) DeclareSlot(e *ilgen.Emitter, name string, k kind.Kind) (int, error) {
	idx, err := e.DeclareLocal(k)
	if err != nil {
		return 0, err
	}
	s.slots[name] = idx
	return idx, nil
}

// CreateScope emits the code that constructs s and replaces the
// scopeArgIndex argument (the current-scope handle threaded through every
// generated routine) with the new scope.
//
// Declarative scopes need no runtime object: their slots are plain
// emitter locals, so CreateScope is a no-op once DeclareSlot has been
// called for each of the scope's variables.
//
// Object scopes evaluate their backing expression (evalBackingObject emits
// the expression's code and must leave exactly one Object on the stack)
// and hand it to the runtime's create_runtime_scope alongside the current
// scope as parent.
//
// The global scope loads the runtime's singleton global object directly.
func (s *Scope) CreateScope(e *ilgen.Emitter, scopeArgIndex int, evalBackingObject func() error) error {
	switch s.variant {
	case Declarative:
		return nil
	case ObjectScope:
		if err := e.LoadArgument(scopeArgIndex); err != nil {
			return err
		}
		if err := evalBackingObject(); err != nil {
			return err
		}
		e.Syscall("to_object", 1, true)
		e.Syscall("create_runtime_scope", 2, true)
		return e.StoreArgument(scopeArgIndex)
	case GlobalScope:
		e.Syscall("global_scope", 0, true)
		return e.StoreArgument(scopeArgIndex)
	}
	return nil
}

// Chain owns the state shared across every GenerateGet/GenerateSet call
// for one compilation: the runtime host and the inline-cache site
// counter. Each call site gets a distinct site ID; the runtime owns the
// two cache cells that ID identifies (design §9's "two single-cell
// caches per get/set site"), so the emitter itself only ever threads an
// opaque int32 through to the Syscalls that do the lookup.
type Chain struct {
	host     RuntimeHost
	nextSite int32
}

// NewChain creates a Chain bound to host for the duration of one
// compilation.
func NewChain(host RuntimeHost) *Chain {
	return &Chain{host: host}
}

func (c *Chain) siteID() int32 {
	id := c.nextSite
	c.nextSite++
	return id
}

// GenerateGet emits code that resolves name by walking the chain from s
// to the root, pushing the resolved value. Declarative scopes are a
// direct local load; object/global scopes go through a has/get pair
// guarded by an inline-cache site ID, falling through to the parent scope
// on a miss. A miss at the root emits the ReferenceError throw sequence
// design §4.5 and §7 both call for.
func (c *Chain) GenerateGet(e *ilgen.Emitter, s *Scope, name string) error {
	if s.variant == Declarative {
		if idx, ok := s.slots[name]; ok {
			return e.LoadLocal(idx)
		}
		if s.parent == nil {
			return c.throwReferenceError(e, name)
		}
		return c.GenerateGet(e, s.parent, name)
	}

	site := c.siteID()
	token := s.host.PropertyToken(name)

	if s.parent == nil {
		// Root object/global scope: has/get, or throw on a genuine miss.
		miss := e.CreateLabel()
		done := e.CreateLabel()
		e.LoadInt32(site)
		e.LoadInt32(token)
		e.Syscall("scope_has", 2, true)
		if err := e.BranchIfFalse(miss); err != nil {
			return err
		}
		e.LoadInt32(site)
		e.LoadInt32(token)
		e.Syscall("scope_get", 2, true)
		if err := e.Branch(done); err != nil {
			return err
		}
		if err := e.DefineLabel(miss); err != nil {
			return err
		}
		if err := c.throwReferenceError(e, name); err != nil {
			return err
		}
		return e.DefineLabel(done)
	}

	next := e.CreateLabel()
	done := e.CreateLabel()
	e.LoadInt32(site)
	e.LoadInt32(token)
	e.Syscall("scope_has", 2, true)
	if err := e.BranchIfFalse(next); err != nil {
		return err
	}
	e.LoadInt32(site)
	e.LoadInt32(token)
	e.Syscall("scope_get", 2, true)
	if err := e.Branch(done); err != nil {
		return err
	}
	if err := e.DefineLabel(next); err != nil {
		return err
	}
	if err := c.GenerateGet(e, s.parent, name); err != nil {
		return err
	}
	return e.DefineLabel(done)
}

func (c *Chain) throwReferenceError(e *ilgen.Emitter, name string) error {
	e.LoadString(name)
	e.Syscall("new_reference_error", 1, true)
	e.Throw()
	return nil
}

// GenerateSet emits code that stores the value currently on top of the
// stack into name, walking the chain from s to the root. Declarative
// scopes store directly into their slot. Object scopes attempt
// scope_set_if_exists, retrying at the parent scope on failure; the root
// scope's scope_set unconditionally creates-or-overwrites, matching
// design §4.5's "inline_set_if_exists ... root's inline_set
// unconditionally creates or overwrites." In every path GenerateSet
// consumes exactly the one value it was handed.
func (c *Chain) GenerateSet(e *ilgen.Emitter, s *Scope, name string) error {
	if s.variant == Declarative {
		if idx, ok := s.slots[name]; ok {
			return e.StoreLocal(idx)
		}
		if s.parent == nil {
			e.Pop()
			return c.throwReferenceError(e, name)
		}
		return c.GenerateSet(e, s.parent, name)
	}

	site := c.siteID()
	token := s.host.PropertyToken(name)

	if s.parent == nil {
		e.LoadInt32(site)
		e.LoadInt32(token)
		e.Syscall("scope_set", 3, false)
		return nil
	}

	e.Duplicate()
	e.LoadInt32(site)
	e.LoadInt32(token)
	e.Syscall("scope_set_if_exists", 3, true)

	success := e.CreateLabel()
	done := e.CreateLabel()
	if err := e.BranchIfTrue(success); err != nil {
		return err
	}
	if err := c.GenerateSet(e, s.parent, name); err != nil {
		return err
	}
	if err := e.Branch(done); err != nil {
		return err
	}
	if err := e.DefineLabel(success); err != nil {
		return err
	}
	e.Pop()
	return e.DefineLabel(done)
}
