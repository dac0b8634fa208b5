// The Redis port lets local tools such as redis-cli inspect the document client: read and write documents through
// the cache and the batch processors, list cached keys and clear them. It fronts the client library only; it is not
// a document store server.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nobletooth/kindly/pkg/api"
	"github.com/nobletooth/kindly/pkg/docstore"
	"github.com/nobletooth/kindly/pkg/scan"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var address = flag.String("address", ":6390", "The ip:port to listen on for Redis protocol.")

// Documents is the part of api.Client the port exposes.
type Documents interface {
	GetDocument(ctx context.Context, collection api.Collection, id string, skipCache bool) docstore.Document
	QueryCollection(ctx context.Context, collection api.Collection, constraints docstore.Constraints,
		cacheKey string, skipCache bool) []docstore.Document
	SetDocument(ctx context.Context, collection api.Collection, id string, data docstore.Document, merge bool) error
	ClearCache(prefix string) int
	CachedKeys() []string
}

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string // Upper cased.
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string value if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeString     string   // Writes a string value otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

// writeRedisBulk is used for payloads such as JSON documents, which simple strings can't carry.
func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// write sends the output on `conn`; returns false if the connection must be closed.
func (output redisOutput) write(conn redcon.Conn) bool {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.writeBulk != nil:
		conn.WriteBulkString(*output.writeBulk)
	case output.writeArray != nil:
		conn.WriteArray(len(output.writeArray))
		for _, item := range output.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(output.writeString)
	}
	return !output.closeConnection
}

type redisHandler struct {
	documents Documents
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(documents Documents) (*redisHandler, error) {
	if documents == nil {
		return nil, errors.New("expected a non-nil document client")
	}
	return &redisHandler{documents: documents}, nil
}

// takeFlag removes the optional trailing `flag` from `args`, matched case-insensitively.
func takeFlag(args []string, flag string) ([]string, bool) {
	if len(args) > 0 && strings.EqualFold(args[len(args)-1], flag) {
		return args[:len(args)-1], true
	}
	return args, false
}

func (rh *redisHandler) handle(ctx context.Context, cmd redisCommand) redisOutput {
	switch cmd.command {
	case "PING":
		if len(cmd.args) == 1 {
			return writeRedisString(cmd.args[0])
		}
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "DOC.GET": // DOC.GET collection id [NOCACHE]
		args, noCache := takeFlag(cmd.args, "NOCACHE")
		if len(args) != 2 {
			return wrongArgCount(cmd.command)
		}
		collection, err := api.ParseCollection(args[0])
		if err != nil {
			return writeRedisError(err)
		}
		doc := rh.documents.GetDocument(ctx, collection, args[1], noCache /*skipCache*/)
		if doc == nil {
			return writeRedisNil()
		}
		encoded, err := docstore.EncodeJSON(doc)
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisBulk(string(encoded))
	case "DOC.SET": // DOC.SET collection id json [REPLACE]
		args, replace := takeFlag(cmd.args, "REPLACE")
		if len(args) != 3 {
			return wrongArgCount(cmd.command)
		}
		collection, err := api.ParseCollection(args[0])
		if err != nil {
			return writeRedisError(err)
		}
		data, err := docstore.DecodeJSON([]byte(args[2]))
		if err != nil {
			return writeRedisError(err)
		}
		if err := rh.documents.SetDocument(ctx, collection, args[1], data, !replace /*merge*/); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "DOC.QUERY": // DOC.QUERY collection constraints [NOCACHE]
		args, noCache := takeFlag(cmd.args, "NOCACHE")
		if len(args) != 2 {
			return wrongArgCount(cmd.command)
		}
		collection, err := api.ParseCollection(args[0])
		if err != nil {
			return writeRedisError(err)
		}
		constraints, err := docstore.ParseConstraints(args[1])
		if err != nil {
			return writeRedisError(err)
		}
		docs := rh.documents.QueryCollection(ctx, collection, constraints, "" /*cacheKey*/, noCache /*skipCache*/)
		encoded, err := docstore.EncodeJSONList(docs)
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisBulk(string(encoded))
	case "CACHE.CLEAR": // CACHE.CLEAR [prefix]
		if len(cmd.args) > 1 {
			return wrongArgCount(cmd.command)
		}
		prefix := ""
		if len(cmd.args) == 1 {
			prefix = cmd.args[0]
		}
		return writeRedisInt(rh.documents.ClearCache(prefix))
	case "CACHE.KEYS": // CACHE.KEYS pattern
		if len(cmd.args) != 1 {
			return wrongArgCount(cmd.command)
		}
		keys := rh.documents.CachedKeys()
		slices.Sort(keys)
		return writeRedisArray(slices.Collect(scan.MatchGlob(cmd.args[0], slices.Values(keys))))
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// RunRedisServer serves the Redis protocol on --address until `ctx` is done.
func RunRedisServer(ctx context.Context, documents Documents) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(documents)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			command := redisCommand{command: strings.ToUpper(string(cmd.Args[0])), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			if keepOpen := redisHandler.handle(ctx, command).write(conn); !keepOpen {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("Serving the Redis port.", "address", *address)

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close the redis server: %w", err)
		}
	case err, received := <-serverErrSignal:
		if !received {
			return errors.New("redis server stopped unexpectedly")
		}
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
