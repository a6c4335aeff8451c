package dailylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mealvoice/food"
	"mealvoice/store"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when removing an entry the log does not hold.
var ErrEntryNotFound = errors.New("dailylog: entry not found")

const DateLayout = "2006-01-02"

type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
	Snack     MealType = "snack"
)

// ParseMealType accepts the English meal names and their Egyptian Arabic equivalents.
func ParseMealType(s string) (MealType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "breakfast", "فطار", "فطور":
		return Breakfast, nil
	case "lunch", "غدا", "غداء":
		return Lunch, nil
	case "dinner", "عشا", "عشاء":
		return Dinner, nil
	case "snack", "سناك", "تصبيرة":
		return Snack, nil
	}
	return "", fmt.Errorf("dailylog: unknown meal type %q", s)
}

// MealTypeAt picks a default meal type from the time of day.
func MealTypeAt(t time.Time) MealType {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return Breakfast
	case h >= 11 && h < 17:
		return Lunch
	case h >= 17 && h < 23:
		return Dinner
	}
	return Snack
}

// FoodSnapshot is the food as confirmed, with nutrition for one serving.
type FoodSnapshot struct {
	Name           string         `json:"name"`
	Nutrition      food.Nutrition `json:"nutrition"`
	GramEquivalent float64        `json:"gram_equivalent"`
	Quantity       float64        `json:"quantity"`
	Unit           string         `json:"unit"`
	CookingMethod  string         `json:"cooking_method,omitempty"`
}

// Entry is a LoggedFoodEntry. It is immutable once written.
type Entry struct {
	ID        string         `json:"id"`
	FoodItem  FoodSnapshot   `json:"food_item"`
	Quantity  float64        `json:"quantity"`
	Nutrition food.Nutrition `json:"nutrition"`
	LoggedAt  time.Time      `json:"logged_at"`
	MealType  MealType       `json:"meal_type"`
}

// DailyLog aggregates a day's entries. TotalNutrition always equals the sum
// of the entries' nutrition.
type DailyLog struct {
	Date           string         `json:"date"`
	Entries        []Entry        `json:"entries"`
	TotalNutrition food.Nutrition `json:"total_nutrition"`
	CalorieGoal    int            `json:"calorie_goal"`
}

// Remaining returns calories left against the goal; negative when over.
func (d DailyLog) Remaining() float64 {
	return float64(d.CalorieGoal) - d.TotalNutrition.Calories
}

// ByMeal sums entry nutrition per meal type.
func (d DailyLog) ByMeal() map[MealType]food.Nutrition {
	out := map[MealType]food.Nutrition{}
	for _, e := range d.Entries {
		out[e.MealType] = out[e.MealType].Add(e.Nutrition)
	}
	return out
}

// Total folds entries into their nutrition sum.
func Total(entries []Entry) food.Nutrition {
	var n food.Nutrition
	for _, e := range entries {
		n = n.Add(e.Nutrition)
	}
	return food.Round(n)
}

// Key returns the store key for date.
func Key(date string) string {
	return "daily_log/" + date
}

// DateOf formats t as a log date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// EntryFromItem snapshots a confirmed item as a log entry for the given
// number of servings.
func EntryFromItem(item *food.ReconciledFoodItem, servings float64, mealType MealType, at time.Time) Entry {
	if servings <= 0 {
		servings = 1
	}
	per := item.Nutrition
	return Entry{
		ID: uuid.NewString(),
		FoodItem: FoodSnapshot{
			Name:           item.Name,
			Nutrition:      per,
			GramEquivalent: item.GramEquivalent,
			Quantity:       item.Quantity,
			Unit:           item.Unit,
			CookingMethod:  item.CookingMethod,
		},
		Quantity: servings,
		Nutrition: food.Round(food.Nutrition{
			Calories: per.Calories * servings,
			Protein:  per.Protein * servings,
			Carbs:    per.Carbs * servings,
			Fat:      per.Fat * servings,
		}),
		LoggedAt: at,
		MealType: mealType,
	}
}

// Book reads and writes daily logs. All mutations go through one mutex so
// the read-modify-write on a day's key is never interleaved.
type Book struct {
	mu          sync.Mutex
	store       store.Store
	calorieGoal int
}

func NewBook(s store.Store, calorieGoal int) *Book {
	return &Book{store: s, calorieGoal: calorieGoal}
}

// Get returns the log for date, or an empty log when none was written yet.
func (b *Book) Get(ctx context.Context, date string) (DailyLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx, date)
}

// Add appends entries to the log for date and persists it.
func (b *Book) Add(ctx context.Context, date string, entries ...Entry) (DailyLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log, err := b.load(ctx, date)
	if err != nil {
		return DailyLog{}, err
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		log.Entries = append(log.Entries, e)
	}
	log.TotalNutrition = Total(log.Entries)

	if err := b.save(ctx, log); err != nil {
		return DailyLog{}, err
	}
	slog.Info("DAILYLOG: Entries added", "date", date, "added", len(entries), "calories", log.TotalNutrition.Calories)
	return log, nil
}

// Remove deletes the entry with id from the log for date.
func (b *Book) Remove(ctx context.Context, date, id string) (DailyLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log, err := b.load(ctx, date)
	if err != nil {
		return DailyLog{}, err
	}

	idx := -1
	for i, e := range log.Entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return DailyLog{}, fmt.Errorf("%w: %s on %s", ErrEntryNotFound, id, date)
	}

	log.Entries = append(log.Entries[:idx], log.Entries[idx+1:]...)
	log.TotalNutrition = Total(log.Entries)

	if err := b.save(ctx, log); err != nil {
		return DailyLog{}, err
	}
	slog.Info("DAILYLOG: Entry removed", "date", date, "id", id, "calories", log.TotalNutrition.Calories)
	return log, nil
}

func (b *Book) load(ctx context.Context, date string) (DailyLog, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return DailyLog{}, fmt.Errorf("dailylog: invalid date %q: %w", date, err)
	}

	raw, err := b.store.Get(ctx, Key(date))
	if errors.Is(err, store.ErrNotFound) {
		return DailyLog{Date: date, Entries: []Entry{}, CalorieGoal: b.calorieGoal}, nil
	}
	if err != nil {
		return DailyLog{}, fmt.Errorf("dailylog: load %s: %w", date, err)
	}

	var log DailyLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return DailyLog{}, fmt.Errorf("dailylog: decode %s: %w", date, err)
	}
	if log.Entries == nil {
		log.Entries = []Entry{}
	}
	// TotalNutrition is always derived from the entries.
	log.TotalNutrition = Total(log.Entries)
	return log, nil
}

func (b *Book) save(ctx context.Context, log DailyLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("dailylog: encode %s: %w", log.Date, err)
	}
	if err := b.store.Set(ctx, Key(log.Date), raw); err != nil {
		return fmt.Errorf("dailylog: save %s: %w", log.Date, err)
	}
	return nil
}
