package opcode

import "fmt"

var byName map[string]Opcode

func init() {
	byName = make(map[string]Opcode, len(primaryNames))
	for i, n := range primaryNames {
		byName[n] = Opcode(i)
	}
}

// FromString resolves a primary opcode by its mnemonic, as printed by
// String. Extended mnemonics are not resolved.
func FromString(s string) (Opcode, error) {
	if o, ok := byName[s]; ok {
		return o, nil
	}
	return 0, fmt.Errorf("opcode: unknown mnemonic %q", s)
}
