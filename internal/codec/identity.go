package codec

// identity relays bytes unchanged.  It consumes no more than fits in
// dst, so it also exercises partial consumption in callers.
type identity struct{}

func (identity) Transform(src, dst []byte, _ bool) (consumed, produced int, err error) {
	n := copy(dst, src)
	return n, n, nil
}

func init() {
	register(Spec{
		Name:            "none",
		MaxFrame:        1,
		NewCompressor:   func() Codec { return identity{} },
		NewDecompressor: func() Codec { return identity{} },
	})
}
