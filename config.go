package mealvoice

type ModelConfig struct {
	TranscriptionModelID string  `env:"TRANSCRIPTION_MODEL_ID,default=whisper-1"`
	NutritionModelID     string  `env:"NUTRITION_MODEL_ID,required"`
	MaxTokens            int32   `env:"MAX_TOKENS,default=2048"`
	Temperature          float32 `env:"TEMPERATURE,default=0.1"`
	TopP                 float32 `env:"TOP_P,default=0.9"`
}

type AppConfig struct {
	ParserBackend      string `env:"PARSER_BACKEND,default=ollama"`
	BaseOllamaEndpoint string `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
	TranscribeEndpoint string `env:"TRANSCRIBE_ENDPOINT,default=https://api.openai.com"`
	TranscribeAPIKey   string `env:"TRANSCRIBE_API_KEY"`
	TranscribeLanguage string `env:"TRANSCRIBE_LANGUAGE,default=ar"`
	RulesPath          string `env:"FOOD_RULES_PATH"`
	DataDir            string `env:"DATA_DIR,default=data"`
	SessionHistoryCap  int    `env:"SESSION_HISTORY_CAP,default=100"`
	FreeDailyLimit     int    `env:"FREE_DAILY_LIMIT,default=5"`
	Unlimited          bool   `env:"UNLIMITED_TIER,default=false"`
	CalorieGoal        int    `env:"CALORIE_GOAL,default=2000"`
	ParseMaxAttempts   uint   `env:"PARSE_MAX_ATTEMPTS,default=3"`
	NotifyWebhookURL   string `env:"NOTIFY_WEBHOOK_URL"`
	NotifyChannel      string `env:"NOTIFY_CHANNEL,default=#meals"`
}

type StorageConfig struct {
	S3Bucket      string `env:"STORE_S3_BUCKET"`
	S3Prefix      string `env:"STORE_S3_PREFIX,default=mealvoice/"`
	RedisAddr     string `env:"STORE_REDIS_ADDR"`
	RedisPrefix   string `env:"STORE_REDIS_PREFIX,default=mealvoice:"`
	RedisPassword string `env:"STORE_REDIS_PASSWORD"`
	RedisDB       int    `env:"STORE_REDIS_DB,default=0"`
}
