package main

// demoHost is the narrow pkg/codegen.Host collaborator this tool supplies
// so `compile`/`repl` have something concrete to compile against. It
// assigns property tokens by first-use order and fixes the two type
// tokens `Box`/catch dispatch need; it is not a runtime, just enough of
// the host contract for code generation to proceed.
type demoHost struct {
	tokens map[string]int32
	order  []string
}

func newDemoHost() *demoHost {
	return &demoHost{tokens: map[string]int32{}}
}

func (h *demoHost) PropertyToken(name string) int32 {
	if t, ok := h.tokens[name]; ok {
		return t
	}
	t := int32(len(h.tokens))
	h.tokens[name] = t
	h.order = append(h.order, name)
	return t
}

func (h *demoHost) NumberTypeToken() int32    { return -1 }
func (h *demoHost) ExceptionTypeToken() int32 { return -2 }
