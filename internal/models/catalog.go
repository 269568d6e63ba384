package models

// DefaultBaseModels lists the backend model ids exposed when no dynamic
// registry is configured.
func DefaultBaseModels() []string {
	return []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-image",
	}
}

var variantSuffixes = []string{
	DefaultSuffixConfig().SearchSuffix,
	DefaultSuffixConfig().FakeStreamSuffix,
	DefaultSuffixConfig().AntiTruncationSuffix,
	DefaultSuffixConfig().MaxThinkingSuffix,
	DefaultSuffixConfig().NoThinkingSuffix,
}

// GenerateVariantsForModels expands each base model id into itself plus
// every single-suffix feature variant, so clients can discover the
// `-search`/`-fake-stream`/etc. routing flags (§4.G) without reading docs.
func GenerateVariantsForModels(base []string) []string {
	out := make([]string, 0, len(base)*(len(variantSuffixes)+1))
	for _, id := range base {
		out = append(out, id)
		for _, suffix := range variantSuffixes {
			out = append(out, id+suffix)
		}
	}
	return out
}
