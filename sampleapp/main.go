package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/anirudhraja/protocodec"
)

// User is the struct view of sample.User used with UnmarshalStruct.
type User struct {
	ID       int32
	Name     string
	Active   bool
	Status   string
	Email    string
	Metadata map[string]string
	Posts    []Post
	Tags     []string
}

func (User) MessageName() string { return "sample.User" }

type Post struct {
	ID     int32
	Title  string
	Status string
	Tags   []string
	Scores []int32
}

func main() {
	configPath := flag.String("config", "sampleapp.toml", "path to the TOML configuration")
	frames := flag.Int("frames", 3, "number of users to stream through the pipe")
	flag.Parse()

	cfg, err := protocodec.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)

	codec := protocodec.New(cfg.Options(logger)...)
	for _, path := range cfg.Schema.Paths {
		if err := codec.LoadSchema(path); err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to load schema")
		}
	}
	logger.Info().Int("messages", len(codec.ListMessages())).Int("enums", len(codec.ListEnums())).Msg("schemas ready")

	if err := run(context.Background(), codec, logger, *frames); err != nil {
		logger.Fatal().Err(err).Msg("sample run failed")
	}
}

func run(ctx context.Context, codec *protocodec.Codec, logger zerolog.Logger, frames int) error {
	user := sampleUser(1)

	data, err := codec.Marshal(user, "sample.User")
	if err != nil {
		return err
	}
	logger.Info().Int("bytes", len(data)).Msg("encoded user")

	decoded, err := codec.Unmarshal(data, "sample.User")
	if err != nil {
		return err
	}
	fmt.Println(strings.Repeat("=", 60))
	printMessage(os.Stdout, decoded, "")
	fmt.Println(strings.Repeat("=", 60))

	var view User
	if err := codec.UnmarshalStruct(data, &view); err != nil {
		return err
	}
	logger.Info().
		Str("name", view.Name).
		Str("status", view.Status).
		Int("posts", len(view.Posts)).
		Msg("mapped onto struct")

	return streamUsers(ctx, codec, logger, frames)
}

// streamUsers sends users through an in-process pipe, one frame per user.
func streamUsers(ctx context.Context, codec *protocodec.Codec, logger zerolog.Logger, n int) error {
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		w := codec.NewPipeWriter(pw)
		for i := 0; i < n; i++ {
			if err := w.WriteMessage(sampleUser(int32(i+1)), "sample.User"); err != nil {
				pw.CloseWithError(err)
				errc <- err
				return
			}
		}
		errc <- pw.Close()
	}()

	r := codec.NewPipeReader(pr)
	for {
		msg, err := r.ReadMessage(ctx, "sample.User")
		if err == io.EOF {
			break
		}
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		logger.Info().Interface("id", msg["id"]).Interface("email", msg["email"]).Msg("received user")
	}
	logger.Info().Uint64("frames", r.Frames()).Msg("stream complete")
	return <-errc
}

func sampleUser(id int32) map[string]interface{} {
	return map[string]interface{}{
		"id":     id,
		"name":   "John Doe",
		"active": true,
		"status": "USER_ACTIVE",

		// oneof contact_method
		"email": fmt.Sprintf("user%d@example.com", id),

		"nickname": map[string]interface{}{"value": "JohnnyDev"},
		"age":      map[string]interface{}{"value": int32(29)},

		"address": map[string]interface{}{
			"street":           "123 Main St",
			"city":             "San Francisco",
			"postal_code":      "94105",
			"type":             "ADDRESS_WORK",
			"apartment_number": map[string]interface{}{"value": "Apt 4B"},
			"coordinates": map[string]interface{}{
				"latitude":  37.7749,
				"longitude": -122.4194,
			},
		},

		"metadata": map[string]string{
			"timezone": "PST",
			"theme":    "dark",
		},
		"preferences": map[int32]string{
			1: "email_notifications",
			2: "dark_theme",
		},
		"posts": []map[string]interface{}{
			{
				"id":         int32(101),
				"title":      "Comprehensive Protobuf Guide",
				"status":     "POST_PUBLISHED",
				"tags":       []string{"protobuf", "tutorial"},
				"created_at": int64(1640995200),
				"analytics":  map[string]float64{"bounce_rate": 0.23, "time_on_page": 4.5},
				"scores":     []int32{5, -3, 12},
			},
		},
		"tags": []string{"golang", "protobuf"},
	}
}

// printMessage writes a decoded message with sorted keys, nested messages
// indented.
func printMessage(w io.Writer, msg map[string]interface{}, indent string) {
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := msg[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			printMessage(w, v, indent+"  ")
		case []interface{}:
			fmt.Fprintf(w, "%s%s: [%d]\n", indent, k, len(v))
			for i, element := range v {
				if nested, ok := element.(map[string]interface{}); ok {
					fmt.Fprintf(w, "%s  #%d\n", indent, i)
					printMessage(w, nested, indent+"    ")
					continue
				}
				fmt.Fprintf(w, "%s  - %v\n", indent, element)
			}
		default:
			fmt.Fprintf(w, "%s%s: %v\n", indent, k, v)
		}
	}
}
