package domain

// MaxSeed is the largest seed accepted by the engine samplers.
const MaxSeed int64 = 1<<32 - 1

// GenerationRequest is a text-to-image request as received from the caller.
// Nil fields were absent and take the variant defaults.
type GenerationRequest struct {
	Prompt         string
	NegativePrompt *string
	Width          *int
	Height         *int
	Steps          *int
	GuidanceScale  *float64
	Seed           *int64
}

// HasSeed reports whether the caller pinned the seed.
func (r GenerationRequest) HasSeed() bool {
	return r.Seed != nil
}

// WithSeed returns a copy of r with the seed set.
func (r GenerationRequest) WithSeed(seed int64) GenerationRequest {
	r.Seed = &seed
	return r
}
