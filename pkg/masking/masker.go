package masking

// Masker is a code-based masker: one that parses structure (YAML/JSON)
// instead of sweeping with regexes, so it can tell a Secret from a ConfigMap.
type Masker interface {
	// Name returns the masker's identifier. It must match an entry in
	// config.GetBuiltinConfig().CodeMaskers to be resolvable by name.
	Name() string

	// AppliesTo is a cheap pre-check (substring match, not parsing) for
	// whether Mask should run at all.
	AppliesTo(data string) bool

	// Mask returns the masked result. On parse or processing errors it
	// must return the input unchanged; the service's fail-closed handling
	// happens a level up.
	Mask(data string) string
}
