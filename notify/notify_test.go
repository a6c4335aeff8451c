package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"mealvoice/dailylog"
	"mealvoice/food"
	"mealvoice/notify"

	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"
)

type mockDoer struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func ok(body string) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func TestPostMessage(t *testing.T) {
	networkErr := errors.New("network error")

	tests := []struct {
		name    string
		doFunc  func(req *http.Request) (*http.Response, error)
		wantErr string
		wantIs  error
	}{
		{
			name: "success",
			doFunc: func(req *http.Request) (*http.Response, error) {
				return ok("ok")
			},
		},
		{
			name: "failure status",
			doFunc: func(req *http.Request) (*http.Response, error) {
				return &http.Response{StatusCode: http.StatusBadRequest, Status: "400 Bad Request", Body: io.NopCloser(bytes.NewBufferString("invalid_payload\n"))}, nil
			},
			wantErr: "notify: webhook returned 400 Bad Request: invalid_payload",
		},
		{
			name: "do error",
			doFunc: func(req *http.Request) (*http.Response, error) {
				return nil, networkErr
			},
			wantErr: "notify: post: network error",
			wantIs:  networkErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := notify.NewClient("http://example.com/webhook", &mockDoer{doFunc: tt.doFunc})
			err := client.PostMessage(context.Background(), "#meals", "hello")
			if tt.wantErr == "" {
				should.NoError(t, err)
				return
			}
			should.EqualError(t, err, tt.wantErr)
			if tt.wantIs != nil {
				should.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestPostMessage_Payload(t *testing.T) {
	var got map[string]any
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		should.Equal(t, http.MethodPost, req.Method)
		should.Equal(t, "application/json", req.Header.Get("Content-Type"))
		must.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		return ok("ok")
	}}

	err := notify.NewClient("http://example.com/webhook", doer).PostMessage(context.Background(), "#meals", "فطار 300 kcal")
	must.NoError(t, err)
	should.Equal(t, map[string]any{"channel": "#meals", "text": "فطار 300 kcal"}, got)
}

func entry(name string, mt dailylog.MealType, cal float64) dailylog.Entry {
	return dailylog.Entry{
		FoodItem:  dailylog.FoodSnapshot{Name: name},
		Nutrition: food.Nutrition{Calories: cal, Protein: 10, Carbs: 20, Fat: 5},
		MealType:  mt,
	}
}

var lunchLog = dailylog.DailyLog{
	Date:        "2025-01-31",
	CalorieGoal: 2000,
	Entries: []dailylog.Entry{
		entry("رز", dailylog.Lunch, 410),
		entry("شاي", dailylog.Breakfast, 30),
		entry("فراخ", dailylog.Lunch, 182),
	},
	TotalNutrition: food.Nutrition{Calories: 622, Protein: 30, Carbs: 60, Fat: 15},
}

func TestPostSummary(t *testing.T) {
	var got notify.Message
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		must.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		return ok("ok")
	}}

	err := notify.NewClient("http://example.com/webhook", doer).PostSummary(context.Background(), "#meals", lunchLog)
	must.NoError(t, err)

	should.Equal(t, "#meals", got.Channel)
	should.Equal(t, notify.MealSummary(lunchLog), got.Text)
	must.Len(t, got.Blocks, 4)
	should.Equal(t, "header", got.Blocks[0].Type)
	should.Equal(t, "section", got.Blocks[1].Type)
	should.Len(t, got.Blocks[1].Fields, 2)
	should.Equal(t, "context", got.Blocks[2].Type)
	must.Len(t, got.Blocks[3].Elements, 1)
	should.Equal(t, "lunch: 592 kcal (رز, فراخ)", got.Blocks[3].Elements[0].Text)
}

func TestSummaryMessage_Empty(t *testing.T) {
	msg := notify.SummaryMessage(dailylog.DailyLog{Date: "2025-01-31"})
	should.Len(t, msg.Blocks, 2)
	should.Equal(t, "2025-01-31: 0 kcal\nprotein 0.0g, carbs 0.0g, fat 0.0g\nnothing logged yet", msg.Text)
}

func TestMealSummary(t *testing.T) {
	tests := []struct {
		name string
		log  dailylog.DailyLog
		want string
	}{
		{
			name: "empty day",
			log:  dailylog.DailyLog{Date: "2025-01-31", CalorieGoal: 2000},
			want: "2025-01-31: 0 kcal of 2000 (2000 left)\nprotein 0.0g, carbs 0.0g, fat 0.0g\nnothing logged yet",
		},
		{
			name: "meals in order",
			log:  lunchLog,
			want: "2025-01-31: 622 kcal of 2000 (1378 left)\nprotein 30.0g, carbs 60.0g, fat 15.0g" +
				"\nbreakfast: 30 kcal (شاي)\nlunch: 592 kcal (رز, فراخ)",
		},
		{
			name: "over goal",
			log: dailylog.DailyLog{
				Date:           "2025-02-01",
				CalorieGoal:    500,
				Entries:        []dailylog.Entry{entry("كشري", dailylog.Dinner, 700)},
				TotalNutrition: food.Nutrition{Calories: 700, Protein: 10, Carbs: 20, Fat: 5},
			},
			want: "2025-02-01: 700 kcal of 500 (200 over)\nprotein 10.0g, carbs 20.0g, fat 5.0g\ndinner: 700 kcal (كشري)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			should.Equal(t, tt.want, notify.MealSummary(tt.log))
		})
	}
}
