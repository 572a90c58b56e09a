package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Uttam1728/mcp-toolkit/internal/chat"
	"github.com/Uttam1728/mcp-toolkit/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API binds to localhost in the default deployment; browser
	// clients connect cross-origin from dev servers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 30 * time.Second

// WSRequest is one chat request on a websocket connection. Either
// Messages or Message must be set.
type WSRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []llm.Message `json:"messages,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// WSChunk is one streamed event on a websocket connection. It mirrors
// chat.Chunk with the error flattened to a string.
type WSChunk struct {
	ID         string       `json:"id"`
	Kind       string       `json:"kind"`
	Token      string       `json:"token,omitempty"`
	ToolName   string       `json:"tool_name,omitempty"`
	ToolResult string       `json:"tool_result,omitempty"`
	ToolError  string       `json:"tool_error,omitempty"`
	Result     *chat.Result `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// handleChatWS streams chat over a websocket. The client sends one
// JSON request per conversation turn and receives a chunk per event,
// ending with a done or error chunk.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	for {
		var req WSRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket client disconnected")
			} else {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		messages := req.Messages
		if len(messages) == 0 && req.Message != "" {
			messages = []llm.Message{{Role: "user", Content: req.Message}}
		}
		if len(messages) == 0 {
			if err := s.writeWS(conn, WSChunk{Kind: string(chat.ChunkError), Error: "messages are required"}); err != nil {
				return
			}
			continue
		}

		for chunk := range s.chat.Stream(r.Context(), req.Model, messages) {
			out := WSChunk{
				ID:         chunk.ID,
				Kind:       string(chunk.Kind),
				Token:      chunk.Token,
				ToolName:   chunk.ToolName,
				ToolResult: chunk.ToolResult,
				ToolError:  chunk.ToolError,
				Result:     chunk.Result,
			}
			if chunk.Err != nil {
				out.Error = chunk.Err.Error()
			}
			if chunk.Kind == chat.ChunkDone && chunk.Result != nil {
				s.stats.Record(chunk.Result.InputTokens, chunk.Result.OutputTokens)
			}
			if err := s.writeWS(conn, out); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, chunk WSChunk) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(chunk)
}
