package oracle

// Result is the structured reading returned by the model.
type Result struct {
	ZodiacSign        Bilingual    `json:"zodiacSign"`
	Element           Bilingual    `json:"element"`
	DateOfBirth       string       `json:"dateOfBirth"`
	PalmAnalysis      PalmAnalysis `json:"palmAnalysis"`
	Personality       Bilingual    `json:"personality"`
	Behavior          Bilingual    `json:"behavior"`
	Strengths         []Bilingual  `json:"strengths"`
	Challenges        []Bilingual  `json:"challenges"`
	LoveLife          Bilingual    `json:"loveLife"`
	Career            Bilingual    `json:"career"`
	SpiritualGuidance Bilingual    `json:"spiritualGuidance"`
}

// PalmAnalysis holds the per-line interpretation.
type PalmAnalysis struct {
	HeartLine Bilingual `json:"heartLine"`
	HeadLine  Bilingual `json:"headLine"`
	LifeLine  Bilingual `json:"lifeLine"`
	FateLine  Bilingual `json:"fateLine"`
	Mounts    Bilingual `json:"mounts"`
}

// Blob is an uploaded hand image as received, before encoding. The bytes may also hold a
// complete data URL.
type Blob struct {
	Name      string
	MediaType string
	Data      []byte
}

// Empty reports whether the blob carries no content.
func (b *Blob) Empty() bool {
	return b == nil || len(b.Data) == 0
}
