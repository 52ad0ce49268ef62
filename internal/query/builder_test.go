package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryosukesatoh/paperwatch/internal/config"
)

func TestBuildSinglesAndPairs(t *testing.T) {
	got := Build([]string{"a", "b", "c"}, 2)

	assert.ElementsMatch(t, []string{
		`all:"a"`,
		`all:"b"`,
		`all:"c"`,
		`all:"a" AND all:"b"`,
		`all:"a" AND all:"c"`,
		`all:"b" AND all:"c"`,
	}, got)
}

func TestBuildSinglesOnly(t *testing.T) {
	got := Build([]string{"kagome", "quantum spin liquid"}, 1)
	assert.Equal(t, []string{`all:"kagome"`, `all:"quantum spin liquid"`}, got)
}

func TestBuildDeduplicates(t *testing.T) {
	got := Build([]string{"Kagome", " kagome ", "flat  band", ""}, 2)
	assert.Equal(t, []string{
		`all:"Kagome"`,
		`all:"flat band"`,
		`all:"Kagome" AND all:"flat band"`,
	}, got)
}

func TestBuildStripsQuotes(t *testing.T) {
	got := Build([]string{`"spin ice"`, `a\b`, `Néel`, `""`}, 1)
	assert.Equal(t, []string{`all:"spin ice"`, `all:"a b"`, `all:"Néel"`}, got)
}

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, Build(nil, 2))
	assert.Empty(t, Build([]string{"  "}, 2))
}

func TestTopics(t *testing.T) {
	topics := Topics([]config.TopicConfig{
		{Name: "kagome", Keywords: []string{"kagome", " Kagome "}, MaxCombine: 1, TargetCount: 5, Strict: true},
		{Name: "empty", TargetCount: 3},
	})

	if assert.Len(t, topics, 2) {
		assert.Equal(t, Topic{
			Name:        "kagome",
			Queries:     []string{`all:"kagome"`},
			Keywords:    []string{"kagome"},
			TargetCount: 5,
			Strict:      true,
		}, topics[0])
		assert.Equal(t, "empty", topics[1].Name)
		assert.Empty(t, topics[1].Queries)
	}
}

func TestMatch(t *testing.T) {
	kws := []string{"flat band", "kagome"}

	assert.Equal(t, "kagome", Match("Kagome metals", "", kws))
	assert.Equal(t, "flat band", Match("Kagome", "a FLAT\n  band appears", kws), "first configured keyword wins")
	assert.Empty(t, Match("Superconductivity", "cuprates", kws))
	assert.Empty(t, Match("anything", "", nil))
}
