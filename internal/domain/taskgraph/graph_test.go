package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPreservesInsertionOrderAndNestsLoops(t *testing.T) {
	graph := Build(Full, func(b *Builder) {
		b.WithTask("prepare", "prepareTask").
			WithLoop(func(loop *Builder) {
				loop.WithTask("poll", "pollTask").
					WithTask("check", "checkTask")
			}).
			WithTask("finish", "finishTask")
	})

	require.Len(t, graph.Nodes(), 3)
	assert.Equal(t, Full, graph.Type)
	assert.Equal(t, TaskDefinition{Name: "prepare", Implementation: "prepareTask"}, graph.Nodes()[0])

	loop, ok := graph.Nodes()[1].(*Graph)
	require.True(t, ok, "second node should be a loop graph")
	assert.Equal(t, Loop, loop.Type)
	require.Len(t, loop.Nodes(), 2)
	assert.Equal(t, "check", loop.Nodes()[1].(TaskDefinition).Name)

	assert.Equal(t, "finish", graph.Nodes()[2].(TaskDefinition).Name)
}

func TestBuiltGraphIsIndependentOfBuilder(t *testing.T) {
	b := NewBuilder(Head)
	b.WithTask("one", "oneTask")
	graph := b.Build()
	b.WithTask("two", "twoTask")

	assert.Len(t, graph.Nodes(), 1)
	assert.Equal(t, 2, b.Len())
	assert.True(t, NewBuilder(Tail).Build().IsEmpty())
}
