package parser

import (
	"mealvoice"
	"mealvoice/food"
)

type foodItem = food.RawFoodItem

var usage0 mealvoice.Usage
