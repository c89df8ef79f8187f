package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ahleung/storylens/model"
)

// sceneTextPrefix bounds how much scene text feeds the fingerprint; enough
// to distinguish edits without hashing whole chapters.
const sceneTextPrefix = 512

// Fingerprint derives a canonical cache key from the stable parts of a
// request: analysis type, scene identity, a prefix of the scene text, the
// previous-scene id sequence, and the sorted known-character set. Volatile
// fields (task type, flags) and slice order of characters do not affect it.
func Fingerprint(req model.AnalysisRequest) string {
	var b strings.Builder
	b.WriteString(string(req.AnalysisType))
	b.WriteByte('|')
	b.WriteString(req.Scene.ID)
	b.WriteByte('|')

	text := req.Scene.Text
	if len(text) > sceneTextPrefix {
		text = text[:sceneTextPrefix]
	}
	b.WriteString(text)
	b.WriteByte('|')

	for _, s := range req.PreviousScenes {
		b.WriteString(s.ID)
		b.WriteByte(',')
	}
	b.WriteByte('|')

	chars := append([]string(nil), req.Knowledge.KnownCharacters...)
	sort.Strings(chars)
	for _, c := range chars {
		b.WriteString(c)
		b.WriteByte(',')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
