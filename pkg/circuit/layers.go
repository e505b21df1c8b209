package circuit

import "fmt"

// WrapForward applies each hop's forward AEAD layer to payload, from
// the innermost (last/exit hop) outward to the outermost (first/entry
// hop), so the entry peer peels exactly one layer and forwards the
// rest — the originator-side onion-encryption direction.
func WrapForward(c *Circuit, payload []byte) ([]byte, error) {
	hops := c.Hops()
	sealed := payload
	for i := len(hops) - 1; i >= 0; i-- {
		var err error
		sealed, err = hops[i].Forward.Seal(nil, sealed, nil)
		if err != nil {
			return nil, fmt.Errorf("circuit: wrap forward at hop %d: %w", i, err)
		}
	}
	return sealed, nil
}

// PeelBackward removes each hop's backward AEAD layer from payload,
// from the entry hop inward to the exit hop — the originator-side
// decryption direction for a reply travelling back from the exit.
func PeelBackward(c *Circuit, payload []byte) ([]byte, error) {
	hops := c.Hops()
	opened := payload
	for i := 0; i < len(hops); i++ {
		var err error
		opened, err = hops[i].Backward.Open(nil, opened, nil)
		if err != nil {
			return nil, fmt.Errorf("circuit: peel backward at hop %d: %w", i, err)
		}
	}
	return opened, nil
}
