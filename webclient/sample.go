package webclient

import _ "embed"

//go:embed sampledata/result_bda_blueprint.json
var sampleDocument []byte

// SampleDocument returns the bundled document served in offline mode.
func SampleDocument() []byte {
	return append([]byte(nil), sampleDocument...)
}
