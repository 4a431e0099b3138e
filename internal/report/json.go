package report

import (
	"encoding/json"
	"io"

	"github.com/yourorg/secuscan/internal/model"
)

// JSON writes the report document as indented JSON.
type JSON struct{}

func (JSON) Write(w io.Writer, rep *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(document(rep))
}

type jsonDocument struct {
	*model.Report
	ReducedCoverage bool    `json:"reduced_coverage"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func document(rep *model.Report) jsonDocument {
	return jsonDocument{
		Report:          rep,
		ReducedCoverage: rep.ReducedCoverage(),
		DurationSeconds: rep.Duration().Seconds(),
	}
}
