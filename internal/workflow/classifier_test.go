package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_ParsesKnownIntents(t *testing.T) {
	for _, intent := range []Classification{ClassFinancial, ClassConversational, ClassNonFinancial} {
		t.Run(intent.String(), func(t *testing.T) {
			chat := newFakeChat()
			chat.reply("classification", classificationJSON(intent))
			classifier := NewRequestClassifier(chat, "test-model", 0)

			got, err := classifier.Classify(context.Background(), "any query")
			require.NoError(t, err)
			assert.Equal(t, intent, got)
		})
	}
}

func TestClassifier_UnknownIntentDefaultsToNonFinancial(t *testing.T) {
	chat := newFakeChat()
	chat.reply("classification", mustJSON(map[string]interface{}{
		"classification": "SOMETHING_ELSE", "reason": "confused",
	}))
	classifier := NewRequestClassifier(chat, "test-model", 0)

	got, err := classifier.Classify(context.Background(), "???")
	require.NoError(t, err)
	assert.Equal(t, ClassNonFinancial, got)
}

func TestClassifier_UnparseableOutputDefaultsToNonFinancial(t *testing.T) {
	chat := newFakeChat()
	chat.reply("classification", "definitely not json")
	classifier := NewRequestClassifier(chat, "test-model", 0)

	got, err := classifier.Classify(context.Background(), "???")
	require.NoError(t, err)
	assert.Equal(t, ClassNonFinancial, got)
}

func TestClassifier_ModelErrorPropagates(t *testing.T) {
	classifier := NewRequestClassifier(newFakeChat(), "test-model", 0)

	_, err := classifier.Classify(context.Background(), "query")
	assert.Error(t, err)
}
