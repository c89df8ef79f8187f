package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahleung/storylens/model"
)

func TestBuildMessagesBareScene(t *testing.T) {
	msgs := BuildMessages(model.AnalysisRequest{
		Scene: model.Scene{ID: "ch1-s1", Text: "Rain hammered the skylight.", Position: 1},
	})
	require.Len(t, msgs, 2)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "continuity analyst")

	user := msgs[1]
	assert.Equal(t, "user", user.Role)
	assert.Contains(t, user.Content, "SCENE UNDER ANALYSIS (id ch1-s1, position 1)")
	assert.Contains(t, user.Content, "Rain hammered the skylight.")
	assert.NotContains(t, user.Content, "PRIOR SCENES")
	assert.NotContains(t, user.Content, "READER KNOWLEDGE")
	// Unset analysis type defaults to consistency.
	assert.Contains(t, user.Content, "ANALYSIS TYPE: consistency")
}

func TestBuildMessagesFullContext(t *testing.T) {
	msgs := BuildMessages(model.AnalysisRequest{
		Scene: model.Scene{ID: "ch2-s3", Text: "She reached for the key.", Position: 7},
		PreviousScenes: []model.Scene{
			{ID: "ch1-s1", Text: "The key sank into the harbor.", Position: 1},
			{ID: "ch2-s1", Text: "A locksmith refused the job.", Position: 5},
		},
		Knowledge: model.ReaderKnowledge{
			KnownCharacters: []string{"Mara", "the locksmith"},
			TimelineEvents:  []string{"key lost at sea"},
		},
		AnalysisType: model.AnalysisComplex,
	})
	require.Len(t, msgs, 2)
	user := msgs[1].Content

	assert.Contains(t, user, "PRIOR SCENES (oldest first):")
	assert.Contains(t, user, "scene ch1-s1 (position 1)")
	assert.Contains(t, user, "scene ch2-s1 (position 5)")
	assert.Contains(t, user, "READER KNOWLEDGE AT THIS POINT:")
	assert.Contains(t, user, "Known characters: Mara; the locksmith")
	assert.Contains(t, user, "Timeline events so far: key lost at sea")
	assert.NotContains(t, user, "Revealed plot points")
	assert.Contains(t, user, "ANALYSIS TYPE: complex")

	// Prior context precedes the scene under analysis.
	assert.Less(t,
		strings.Index(user, "PRIOR SCENES"),
		strings.Index(user, "SCENE UNDER ANALYSIS"),
	)
}
