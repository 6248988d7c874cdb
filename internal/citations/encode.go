package citations

// Encoded is the flattened wire form of a Citation. Location fields are
// populated according to Kind; the sum type stays internal to the engine.
type Encoded struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title,omitempty"`
	CitedText     string `json:"cited_text"`
	HighlightID   string `json:"highlight_id,omitempty"`
	Highlights    []Rect `json:"highlights,omitempty"`
	StartPage     int    `json:"start_page,omitempty"`
	EndPage       int    `json:"end_page,omitempty"`
	StartChar     int    `json:"start_char,omitempty"`
	EndChar       int    `json:"end_char,omitempty"`
	StartBlock    int    `json:"start_block,omitempty"`
	EndBlock      int    `json:"end_block,omitempty"`
}

func Encode(c Citation) Encoded {
	encoded := Encoded{
		ID:            c.ID(),
		Kind:          c.Kind(),
		DocumentID:    c.DocumentID(),
		DocumentTitle: c.DocumentTitle(),
		CitedText:     c.CitedText(),
		HighlightID:   c.HighlightID(),
		Highlights:    c.Highlights(),
	}
	switch located := c.(type) {
	case *PageCitation:
		encoded.StartPage = located.StartPage
		encoded.EndPage = located.EndPage
	case *CharCitation:
		encoded.StartChar = located.StartChar
		encoded.EndChar = located.EndChar
	case *BlockCitation:
		encoded.StartBlock = located.StartBlock
		encoded.EndBlock = located.EndBlock
	}
	return encoded
}

func EncodeAll(list []Citation) []Encoded {
	encoded := make([]Encoded, 0, len(list))
	for _, c := range list {
		encoded = append(encoded, Encode(c))
	}
	return encoded
}
