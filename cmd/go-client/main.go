// go-client sends a single conversation request to the service over NATS and prints
// the reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/conversation-service/internal/tts"
	"github.com/book-expert/conversation-service/internal/worker"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTypeDesc     = "Request type: text, audio, lookup, clear_cache or metrics"
	flagWordIDDesc   = "Vocabulary item id"
	flagWordDesc     = "Display form of the word"
	flagVersionDesc  = "Generator version tag"
	flagTurnDesc     = "Turn index for audio requests"
	flagTextDesc     = "Turn text to synthesize"
	flagVoiceDesc    = "Voice name"
	flagPatternDesc  = "Hot cache key pattern for clear_cache"
	flagNATSURLDesc  = "NATS server URL"
	flagSubjectDesc  = "Request subject"
	flagTimeoutDesc  = "Request timeout"
	flagHealthDesc   = "Check the TTS HTTP service health and exit"
	flagTTSURLDesc   = "TTS HTTP service URL used by --health"
	flagWordIDsUsage = "Additional word ids for lookup requests are read from the remaining arguments"
)

// Flag names.
const (
	flagType    = "type"
	flagWordID  = "word-id"
	flagWord    = "word"
	flagVersion = "version"
	flagTurn    = "turn"
	flagText    = "text"
	flagVoice   = "voice"
	flagPattern = "pattern"
	flagNATSURL = "nats-url"
	flagSubject = "subject"
	flagTimeout = "timeout"
	flagHealth  = "health"
	flagTTSURL  = "tts-url"
)

// Defaults.
const (
	defaultSubject   = "conversation.requests"
	defaultTimeout   = 2 * time.Minute
	logFileName      = "conversation-client.log"
	noTurn           = -1
	msgServiceHealth = "TTS service is healthy"
)

var (
	errTypeRequired    = errors.New("--type is required")
	errWordIDRequired  = errors.New("--word-id is required")
	errWordRequired    = errors.New("--word is required for text requests")
	errTurnRequired    = errors.New("--turn is required for audio requests")
	errTextRequired    = errors.New("--text is required for audio requests")
	errPatternRequired = errors.New("--pattern is required for clear_cache requests")
	errUnknownType     = errors.New("unknown request type")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	requestType string
	wordID      string
	word        string
	version     string
	turn        int
	text        string
	voice       string
	pattern     string
	natsURL     string
	subject     string
	timeout     time.Duration
	health      bool
	ttsURL      string
	extraIDs    []string
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.health {
		return handleHealthCheck(ctx, flags, out)
	}

	req, err := buildRequest(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(flags.natsURL, nats.Name("conversation-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	clientLog.Info("Sending %s request for workflow %s", req.Type, req.Header.WorkflowID)

	reply, err := sendRequest(ctx, natsConnection, flags.subject, req)
	if err != nil {
		clientLog.Error("Request failed: %v", err)

		return err
	}

	return printReply(out, reply)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.requestType, flagType, "", flagTypeDesc)
	flagSet.StringVar(&flags.wordID, flagWordID, "", flagWordIDDesc)
	flagSet.StringVar(&flags.word, flagWord, "", flagWordDesc)
	flagSet.StringVar(&flags.version, flagVersion, "", flagVersionDesc)
	flagSet.IntVar(&flags.turn, flagTurn, noTurn, flagTurnDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.pattern, flagPattern, "", flagPatternDesc)
	flagSet.StringVar(&flags.natsURL, flagNATSURL, nats.DefaultURL, flagNATSURLDesc)
	flagSet.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.StringVar(&flags.ttsURL, flagTTSURL, "http://localhost:8000", flagTTSURLDesc)

	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Usage of go-client:\n")
		flagSet.PrintDefaults()
		fmt.Fprintln(flagSet.Output(), flagWordIDsUsage)
	}

	err := flagSet.Parse(args)
	if err != nil {
		return flags, err
	}

	flags.extraIDs = flagSet.Args()

	return flags, nil
}

// buildRequest validates flags and turns them into a worker request.
func buildRequest(flags appFlags) (*worker.Request, error) {
	req := &worker.Request{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Type: flags.requestType,
	}

	switch flags.requestType {
	case "":
		return nil, errTypeRequired
	case worker.TypeText:
		if flags.wordID == "" {
			return nil, errWordIDRequired
		}

		if flags.word == "" {
			return nil, errWordRequired
		}

		req.WordID = flags.wordID
		req.Word = flags.word
		req.GeneratorVersion = flags.version
	case worker.TypeAudio:
		if flags.wordID == "" {
			return nil, errWordIDRequired
		}

		if flags.turn < 0 {
			return nil, errTurnRequired
		}

		if flags.text == "" {
			return nil, errTextRequired
		}

		turn := flags.turn
		req.WordID = flags.wordID
		req.TurnIndex = &turn
		req.Text = flags.text
		req.Voice = flags.voice
	case worker.TypeLookup:
		ids := flags.extraIDs
		if flags.wordID != "" {
			ids = append([]string{flags.wordID}, ids...)
		}

		if len(ids) == 0 {
			return nil, errWordIDRequired
		}

		req.WordIDs = ids
	case worker.TypeClearCache:
		if flags.pattern == "" {
			return nil, errPatternRequired
		}

		req.Pattern = flags.pattern
	case worker.TypeMetrics:
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, flags.requestType)
	}

	return req, nil
}

func sendRequest(ctx context.Context, natsConnection *nats.Conn, subject string, req *worker.Request) (*worker.Reply, error) {
	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request on %s failed: %w", subject, err)
	}

	var reply worker.Reply

	err = sonic.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	return &reply, nil
}

func printReply(out io.Writer, reply *worker.Reply) error {
	data, err := sonic.ConfigDefault.MarshalIndent(reply, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format reply: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))
	if err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}

	if reply.Error != nil {
		return fmt.Errorf("%s: %s", reply.Error.Code, reply.Error.Message)
	}

	return nil
}

// handleHealthCheck performs a TTS service health check and prints the result.
func handleHealthCheck(ctx context.Context, flags appFlags, out io.Writer) error {
	client := tts.NewHTTPClient(flags.ttsURL, flags.timeout)

	err := client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("TTS service is not healthy: %w", err)
	}

	_, err = fmt.Fprintln(out, msgServiceHealth)

	return err
}
