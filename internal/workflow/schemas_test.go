package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONSchema_StrictObjectShape(t *testing.T) {
	out := toJSONSchema(classifierSchema)

	assert.Equal(t, "object", out["type"])
	assert.Equal(t, false, out["additionalProperties"])

	props, ok := out["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "classification")
	assert.Contains(t, props, "reason")

	// Strict mode requires every property to be required.
	required, ok := out["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"classification", "reason"}, required)

	classification, ok := props["classification"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "string", classification["type"])
	assert.Equal(t, []string{"FINANCIAL", "CONVERSATIONAL", "NON_FINANCIAL"}, classification["enum"])
}

func TestToJSONSchema_NestedArrays(t *testing.T) {
	out := toJSONSchema(analysisPlanSchema)

	props := out["properties"].(map[string]interface{})
	entities, ok := props["entities"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "array", entities["type"])

	items, ok := entities["items"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "string", items["type"])
}

func TestToJSONSchema_Nil(t *testing.T) {
	assert.Nil(t, toJSONSchema(nil))
}

func TestStageSchemasAreObjects(t *testing.T) {
	for name, schema := range map[string]interface{}{
		"cleaner":     toJSONSchema(cleanerSchema),
		"classifier":  toJSONSchema(classifierSchema),
		"router":      toJSONSchema(routerSchema),
		"plan":        toJSONSchema(analysisPlanSchema),
		"synthesizer": toJSONSchema(synthesizerSchema),
		"evaluator":   toJSONSchema(evaluatorSchema),
	} {
		out, ok := schema.(map[string]interface{})
		require.True(t, ok, name)
		assert.Equal(t, "object", out["type"], name)
		assert.NotEmpty(t, out["properties"], name)
	}
}
