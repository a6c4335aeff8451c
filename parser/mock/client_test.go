package mock

import (
	"context"
	"testing"

	"mealvoice/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Parse(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		wantKind   parser.OutcomeKind
		wantNames  []string
	}{
		{
			name:       "arabic meal",
			transcript: "اكلت رز وفراخ وشربت شاي",
			wantKind:   parser.OutcomeSuccess,
			wantNames:  []string{"رز", "فراخ", "كوب شاي"},
		},
		{
			name:       "english meal",
			transcript: "I had Koshari for lunch",
			wantKind:   parser.OutcomeSuccess,
			wantNames:  []string{"كشري"},
		},
		{
			name:       "no food",
			transcript: "كان يوم طويل في الشغل",
			wantKind:   parser.OutcomeNoFood,
		},
	}

	c := NewClient()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Parse(context.Background(), tt.transcript)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, ModelID, got.Model)

			var names []string
			for _, it := range got.Items {
				names = append(names, it.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestClient_Parse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient().Parse(ctx, "رز")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Parse_Decoded(t *testing.T) {
	got, err := NewClient().Parse(context.Background(), "فراخ")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)

	item := got.Items[0]
	assert.Equal(t, 165.0, item.Calories)
	assert.True(t, item.NeedsCookingMethod)
	assert.Equal(t, []string{"Grilled", "Fried", "Boiled"}, item.SuggestedCookingMethods)
}
