package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ironcoreai/VoicePipe/internal/api"
	"github.com/ironcoreai/VoicePipe/internal/convo"
	"github.com/ironcoreai/VoicePipe/internal/genai"
	"github.com/ironcoreai/VoicePipe/internal/models"
	"github.com/ironcoreai/VoicePipe/internal/tts"
	"github.com/ironcoreai/VoicePipe/internal/twiliocalls"
	"github.com/ironcoreai/VoicePipe/internal/util"
)

// Default configuration constants
const (
	// DefaultTranscriptLimit is how many transcript entries a call context retains
	DefaultTranscriptLimit = models.DefaultTranscriptLimit
	// DefaultOracleTimeout bounds the per-turn oracle call
	DefaultOracleTimeout = convo.DefaultOracleTimeout
	// DefaultGatherTimeout is the speech capture wait in seconds
	DefaultGatherTimeout = 3
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Load the conversation script
	script, err := loadScript(flags)
	if err != nil {
		slog.Error("Failed to load conversation script", "error", err)
		os.Exit(1)
	}

	// Build module options
	engineOpts := buildEngineOptions(config)
	genaiOpts := buildGenAIOptions(flags)
	ttsOpts := buildTTSOptions(flags)
	twilioOpts := buildTwilioOptions(flags)
	apiOpts := buildAPIOptions(config, flags)

	// Start the service
	slog.Info("Bootstrapping VoicePipe with configured modules", "script", script.Name)
	slog.Debug("Module options counts", "engine", len(engineOpts), "genai", len(genaiOpts), "tts", len(ttsOpts), "twilio", len(twilioOpts), "api", len(apiOpts))
	if err := api.Run(script, engineOpts, genaiOpts, ttsOpts, twilioOpts, apiOpts); err != nil {
		slog.Error("VoicePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VoicePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	OpenAIKey       string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	APIAddr         string
	BaseURL         string
	ScriptFile      string
	SIPTarget       string
	TranscriptLimit int
	GatherTimeout   int
	OracleTimeout   time.Duration
}

// Flags holds command line flag values
type Flags struct {
	apiAddr     *string
	baseURL     *string
	openaiKey   *string
	twilioSID   *string
	twilioToken *string
	twilioFrom  *string
	scriptFile  *string
	sipTarget   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		APIAddr:         os.Getenv("API_ADDR"),
		BaseURL:         os.Getenv("PUBLIC_BASE_URL"),
		ScriptFile:      os.Getenv("SCRIPT_FILE"),
		SIPTarget:       os.Getenv("SIP_AGENT_TARGET"),
		TranscriptLimit: util.ParseIntEnv("TRANSCRIPT_LIMIT", DefaultTranscriptLimit),
		GatherTimeout:   util.ParseIntEnv("GATHER_TIMEOUT", DefaultGatherTimeout),
		OracleTimeout:   util.ParseDurationEnv("ORACLE_TIMEOUT", DefaultOracleTimeout),
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"TWILIO_FROM_NUMBER_SET", config.TwilioFrom != "",
		"API_ADDR", config.APIAddr,
		"PUBLIC_BASE_URL", config.BaseURL,
		"SCRIPT_FILE", config.ScriptFile,
		"SIP_AGENT_TARGET_SET", config.SIPTarget != "",
		"TRANSCRIPT_LIMIT", config.TranscriptLimit,
		"GATHER_TIMEOUT", config.GatherTimeout,
		"ORACLE_TIMEOUT", config.OracleTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		baseURL:     flag.String("base-url", config.BaseURL, "public base URL for callback and audio links (overrides $PUBLIC_BASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		twilioSID:   flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken: flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:  flag.String("twilio-from-number", config.TwilioFrom, "Twilio caller ID for outbound calls (overrides $TWILIO_FROM_NUMBER)"),
		scriptFile:  flag.String("script-file", config.ScriptFile, "conversation script JSON file (overrides $SCRIPT_FILE)"),
		sipTarget:   flag.String("sip-target", config.SIPTarget, "SIP agent address for /dial handoff (overrides $SIP_AGENT_TARGET)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"apiAddr", *flags.apiAddr,
		"baseURL", *flags.baseURL,
		"openaiKeySet", *flags.openaiKey != "",
		"twilioSIDSet", *flags.twilioSID != "",
		"scriptFile", *flags.scriptFile,
		"sipTargetSet", *flags.sipTarget != "")

	return flags
}

// loadScript loads the conversation script from file, or the built-in default
func loadScript(flags Flags) (*models.Script, error) {
	var script *models.Script
	if *flags.scriptFile == "" {
		slog.Debug("No script file configured, using built-in default script")
		script = models.DefaultScript()
	} else {
		loaded, err := models.LoadScript(*flags.scriptFile)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded conversation script", "file", *flags.scriptFile, "script", loaded.Name, "stages", len(loaded.Stages))
		script = loaded
	}

	// $ALLOW_REGRESSION overrides the script's stage regression policy; when
	// unset the script's own setting stands.
	script.AllowRegression = util.ParseBoolEnv("ALLOW_REGRESSION", script.AllowRegression)
	return script, nil
}

// buildEngineOptions constructs turn engine configuration options
func buildEngineOptions(config Config) []convo.Option {
	var engineOpts []convo.Option
	if config.TranscriptLimit != DefaultTranscriptLimit {
		engineOpts = append(engineOpts, convo.WithTranscriptLimit(config.TranscriptLimit))
	}
	if config.OracleTimeout != DefaultOracleTimeout {
		engineOpts = append(engineOpts, convo.WithOracleTimeout(config.OracleTimeout))
	}
	return engineOpts
}

// buildGenAIOptions constructs oracle client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildTTSOptions constructs speech synthesis configuration options
func buildTTSOptions(flags Flags) []tts.Option {
	var ttsOpts []tts.Option
	if *flags.openaiKey != "" {
		ttsOpts = append(ttsOpts, tts.WithAPIKey(*flags.openaiKey))
	}
	return ttsOpts
}

// buildTwilioOptions constructs outbound calling configuration options
func buildTwilioOptions(flags Flags) []twiliocalls.Option {
	var twilioOpts []twiliocalls.Option
	if *flags.twilioSID != "" {
		twilioOpts = append(twilioOpts, twiliocalls.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		twilioOpts = append(twilioOpts, twiliocalls.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		twilioOpts = append(twilioOpts, twiliocalls.WithFromNumber(*flags.twilioFrom))
	}
	return twilioOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.baseURL != "" {
		apiOpts = append(apiOpts, api.WithBaseURL(*flags.baseURL))
	}
	if *flags.sipTarget != "" {
		apiOpts = append(apiOpts, api.WithSIPTarget(*flags.sipTarget))
	}
	if config.GatherTimeout != DefaultGatherTimeout {
		apiOpts = append(apiOpts, api.WithGatherTimeout(config.GatherTimeout))
	}
	return apiOpts
}
