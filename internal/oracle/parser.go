package oracle

import (
	"encoding/json"
	"errors"
	"strings"
)

var fenceReplacer = strings.NewReplacer("```json", "", "```", "")

var errNoJSONObject = errors.New("no JSON object delimiters in reply")

// wireResult mirrors Result with pointer fields so absent keys and nulls can be told apart
// from empty strings.
type wireResult struct {
	ZodiacSign        *string    `json:"zodiacSign"`
	Element           *string    `json:"element"`
	DateOfBirth       *string    `json:"dateOfBirth"`
	PalmAnalysis      *wirePalm  `json:"palmAnalysis"`
	Personality       *string    `json:"personality"`
	Behavior          *string    `json:"behavior"`
	Strengths         *[]*string `json:"strengths"`
	Challenges        *[]*string `json:"challenges"`
	LoveLife          *string    `json:"loveLife"`
	Career            *string    `json:"career"`
	SpiritualGuidance *string    `json:"spiritualGuidance"`
}

type wirePalm struct {
	HeartLine *string `json:"heartLine"`
	HeadLine  *string `json:"headLine"`
	LifeLine  *string `json:"lifeLine"`
	FateLine  *string `json:"fateLine"`
	Mounts    *string `json:"mounts"`
}

// Parse extracts a Result from raw model text. Markdown fences are removed and the span from the
// first '{' to the last '}' is decoded, so surrounding prose is tolerated. Replies with no such
// span or with invalid JSON fail as KindMalformed; valid JSON with missing or mistyped fields
// fails as KindSchema.
func Parse(raw string) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	candidate, err := ExtractJSONObject(raw)
	if err != nil {
		return Result{}, malformedError(err)
	}
	if !json.Valid([]byte(candidate)) {
		var probe any
		err := json.Unmarshal([]byte(candidate), &probe)
		return Result{}, malformedError(err)
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Result{}, schemaError([]string{fieldPath(typeErr)}, err)
		}
		return Result{}, schemaError(nil, err)
	}
	return wire.result()
}

// ExtractJSONObject strips fence markers and returns the text between the first '{' and the
// last '}' inclusive.
func ExtractJSONObject(raw string) (string, error) {
	cleaned := strings.TrimSpace(fenceReplacer.Replace(raw))
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return "", errNoJSONObject
	}
	return cleaned[start : end+1], nil
}

func (w wireResult) result() (Result, error) {
	var missing []string
	text := func(name string, v *string) Bilingual {
		if v == nil {
			missing = append(missing, name)
			return ""
		}
		return Bilingual(*v)
	}
	list := func(name string, v *[]*string) []Bilingual {
		if v == nil || *v == nil {
			missing = append(missing, name)
			return nil
		}
		out := make([]Bilingual, 0, len(*v))
		for _, item := range *v {
			if item == nil {
				missing = append(missing, name+"[]")
				continue
			}
			out = append(out, Bilingual(*item))
		}
		return out
	}

	res := Result{
		ZodiacSign: text("zodiacSign", w.ZodiacSign),
		Element:    text("element", w.Element),
	}
	if w.DateOfBirth == nil {
		missing = append(missing, "dateOfBirth")
	} else {
		res.DateOfBirth = *w.DateOfBirth
	}
	if w.PalmAnalysis == nil {
		missing = append(missing, "palmAnalysis")
	} else {
		p := w.PalmAnalysis
		res.PalmAnalysis = PalmAnalysis{
			HeartLine: text("palmAnalysis.heartLine", p.HeartLine),
			HeadLine:  text("palmAnalysis.headLine", p.HeadLine),
			LifeLine:  text("palmAnalysis.lifeLine", p.LifeLine),
			FateLine:  text("palmAnalysis.fateLine", p.FateLine),
			Mounts:    text("palmAnalysis.mounts", p.Mounts),
		}
	}
	res.Personality = text("personality", w.Personality)
	res.Behavior = text("behavior", w.Behavior)
	res.Strengths = list("strengths", w.Strengths)
	res.Challenges = list("challenges", w.Challenges)
	res.LoveLife = text("loveLife", w.LoveLife)
	res.Career = text("career", w.Career)
	res.SpiritualGuidance = text("spiritualGuidance", w.SpiritualGuidance)

	if len(missing) > 0 {
		return Result{}, schemaError(missing, nil)
	}
	return res, nil
}

func fieldPath(err *json.UnmarshalTypeError) string {
	if err.Field != "" {
		return err.Field
	}
	return err.Value
}
