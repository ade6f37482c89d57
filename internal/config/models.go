package config

// StoreConfig represents the configuration for the persistent store
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// MailboxConfig represents the configuration for the mailbox sync worker
type MailboxConfig struct {
	Provider             string
	UserID               string
	TokenFile            string
	PageSize             int
	InitialWindow        int
	MaxConcurrentFetches int
	SnippetSize          int
}

// RefineConfig represents the configuration for the Phase 2 refinement pass
type RefineConfig struct {
	Providers          []string
	MaxConcurrentCalls int
	Workers            int
	MaxAttempts        int
}

// MLHTTPConfig represents the configuration for the model service client
type MLHTTPConfig struct {
	BaseURL string
}

// OpenAIConfig represents the configuration for the OpenAI refine backend
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	MaxBodySize int
}

// JobsConfig represents the configuration for the batch processor and scheduler
type JobsConfig struct {
	BatchSize    int
	BatchWorkers int
}

// QueueConfig represents the configuration for the refinement queue
type QueueConfig struct {
	Type      string
	AMQPURL   string
	AMQPQueue string
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}

// GetMailbox returns the mailbox configuration
func (c *Config) GetMailbox() MailboxConfig {
	return MailboxConfig{
		Provider:             c.GetString("mailbox.provider"),
		UserID:               c.GetString("mailbox.user_id"),
		TokenFile:            c.GetString("mailbox.token_file"),
		PageSize:             c.GetInt("mailbox.page_size"),
		InitialWindow:        c.GetInt("mailbox.initial_window"),
		MaxConcurrentFetches: c.GetInt("mailbox.max_concurrent_fetches"),
		SnippetSize:          c.GetInt("mailbox.snippet_size"),
	}
}

// GetRefine returns the refinement configuration
func (c *Config) GetRefine() RefineConfig {
	return RefineConfig{
		Providers:          c.GetStringSlice("refine.providers"),
		MaxConcurrentCalls: c.GetInt("refine.max_concurrent_calls"),
		Workers:            c.GetInt("refine.workers"),
		MaxAttempts:        c.GetInt("refine.max_attempts"),
	}
}

// GetMLHTTP returns the model service client configuration
func (c *Config) GetMLHTTP() MLHTTPConfig {
	return MLHTTPConfig{
		BaseURL: c.GetString("mlhttp.base_url"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetJobs returns the jobs configuration
func (c *Config) GetJobs() JobsConfig {
	return JobsConfig{
		BatchSize:    c.GetInt("jobs.batch_size"),
		BatchWorkers: c.GetInt("jobs.batch_workers"),
	}
}

// GetQueue returns the queue configuration
func (c *Config) GetQueue() QueueConfig {
	return QueueConfig{
		Type:      c.GetString("queue.type"),
		AMQPURL:   c.GetString("queue.amqp_url"),
		AMQPQueue: c.GetString("queue.amqp_queue"),
	}
}
