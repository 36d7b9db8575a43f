package server

// JSON-RPC method dispatcher
//
// One request at a time: decode, consult the cache, run the module query,
// encode the envelope. Malformed input never ends the loop; only EOF or
// the quit method does. The quit method works both as a call and as a
// notification; other notifications are ignored.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/Manu343726/wasm-symbols/pkg/formatter"
	"github.com/Manu343726/wasm-symbols/pkg/symbols"
	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// Server dispatches debugger protocol requests against a module cache
type Server struct {
	cache *ModuleCache
	// the printer is the process-wide formatter context
	printer *formatter.VariablePrinter
}

// NewServer creates a dispatcher over the given cache
func NewServer(cache *ModuleCache) *Server {
	return &Server{
		cache:   cache,
		printer: formatter.NewVariablePrinter(),
	}
}

// Cache returns the server's module cache
func (s *Server) Cache() *ModuleCache {
	return s.cache
}

// Run serves requests from the transport until EOF or quit
func (s *Server) Run(in io.Reader, out io.Writer) error {
	transport := NewTransport(in, out)
	slog.Info("running interactive listener")

	for {
		msg, err := transport.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, ErrMalformedRequest) {
			slog.Warn("failed to decode request", "error", err)
			if replyErr := transport.Reply(nil, ErrorResponse{
				Error: makeError(CodeProtocolError, err.Error()),
			}); replyErr != nil {
				return replyErr
			}
			continue
		}
		if err != nil {
			return err
		}

		if msg.Method == "quit" {
			slog.Info("quit requested")
			return nil
		}
		if msg.IsNotification() {
			slog.Debug("ignoring notification", "method", msg.Method)
			continue
		}

		response := s.dispatch(msg)
		slog.Debug("sending response", "method", msg.Method)
		if err := transport.Reply(msg.Id, response); err != nil {
			return err
		}
	}
}

// dispatch routes one call to its handler and returns the response
// envelope
func (s *Server) dispatch(msg *Message) any {
	slog.Info("request", "method", msg.Method)
	switch msg.Method {
	case "addRawModule":
		return decodeThen(msg.Params, s.addRawModule)
	case "sourceLocationToRawLocation":
		return decodeThen(msg.Params, s.sourceLocationToRawLocation)
	case "rawLocationToSourceLocation":
		return decodeThen(msg.Params, s.rawLocationToSourceLocation)
	case "listVariablesInScope":
		return decodeThen(msg.Params, s.listVariablesInScope)
	case "evaluateVariable":
		return decodeThen(msg.Params, s.evaluateVariable)
	default:
		methods := utils.SortedKeys(methodList)
		slog.Warn("unknown protocol method", "method", msg.Method)
		return ErrorResponse{Error: makeError(CodeProtocolError,
			"Unknown protocol method '"+msg.Method+"', expected one of: "+utils.FormatSlice(methods, ", "))}
	}
}

// methodList names the dispatchable methods for diagnostics
var methodList = map[string]bool{
	"addRawModule":                true,
	"sourceLocationToRawLocation": true,
	"rawLocationToSourceLocation": true,
	"listVariablesInScope":        true,
	"evaluateVariable":            true,
	"quit":                        true,
}

// decodeThen decodes the params into T and runs the handler, mapping
// decode failures to protocol errors
func decodeThen[T any](params json.RawMessage, handler func(T) any) any {
	var request T
	if len(params) > 0 {
		if err := json.Unmarshal(params, &request); err != nil {
			slog.Warn("failed to decode request params", "error", err)
			return ErrorResponse{Error: makeError(CodeProtocolError, err.Error())}
		}
	}
	return handler(request)
}

func (s *Server) addRawModule(request AddRawModuleRequest) any {
	if s.cache.DeleteModule(request.RawModuleId) {
		slog.Info("deleted duplicate module", "id", request.RawModuleId)
	}

	var module *WasmModule
	var err error
	switch {
	case len(request.RawModule.Code) > 0:
		module, err = s.cache.GetModuleFromCode(request.RawModuleId, request.RawModule.Code)
	case request.RawModule.Url != "":
		module, err = s.cache.GetModuleFromUrl(request.RawModuleId, request.RawModule.Url)
	}
	if module == nil {
		if err != nil {
			slog.Error("module load failed", "id", request.RawModuleId, "error", err)
		}
		return AddRawModuleResponse{Error: makeNotFoundError(request.RawModuleId)}
	}
	return AddRawModuleResponse{Sources: module.SourceScripts()}
}

func (s *Server) sourceLocationToRawLocation(location SourceLocation) any {
	module := s.cache.FindModule(location.RawModuleId)
	if module == nil {
		return SourceLocationToRawLocationResponse{Error: makeNotFoundError(location.RawModuleId)}
	}

	// the protocol is 0-based, the line tables are 1-based
	offsets := module.OffsetFromSourceLocation(SourcePosition{
		File:   location.SourceFile,
		Line:   int(location.LineNumber) + 1,
		Column: int(location.ColumnNumber) + 1,
	})

	response := SourceLocationToRawLocationResponse{}
	for _, offset := range offsets {
		response.RawLocation = append(response.RawLocation, RawLocation{
			RawModuleId: location.RawModuleId,
			CodeOffset:  offset,
		})
	}
	return response
}

func (s *Server) rawLocationToSourceLocation(location RawLocation) any {
	module := s.cache.FindModule(location.RawModuleId)
	if module == nil {
		return RawLocationToSourceLocationResponse{Error: makeNotFoundError(location.RawModuleId)}
	}

	response := RawLocationToSourceLocationResponse{}
	for _, pos := range module.SourceLocationFromOffset(location.CodeOffset) {
		response.SourceLocation = append(response.SourceLocation, SourceLocation{
			RawModuleId:  location.RawModuleId,
			SourceFile:   pos.File,
			LineNumber:   int32(pos.Line) - 1,
			ColumnNumber: int32(pos.Column) - 1,
		})
	}
	return response
}

func toProtocolScope(scope symbols.Scope) VariableScope {
	switch scope {
	case symbols.ScopeGlobal:
		return ScopeGlobal
	case symbols.ScopeParameter:
		return ScopeParameter
	default:
		return ScopeLocal
	}
}

func (s *Server) listVariablesInScope(location RawLocation) any {
	module := s.cache.FindModule(location.RawModuleId)
	if module == nil {
		return ListVariablesInScopeResponse{Error: makeNotFoundError(location.RawModuleId)}
	}

	response := ListVariablesInScopeResponse{}
	for _, v := range module.VariablesInScope(location.CodeOffset) {
		response.Variable = append(response.Variable, Variable{
			Scope: toProtocolScope(v.Scope),
			Name:  v.Name,
			Type:  v.TypeName,
		})
	}
	return response
}

func (s *Server) evaluateVariable(request EvaluateVariableRequest) any {
	module := s.cache.FindModule(request.Location.RawModuleId)
	if module == nil {
		return EvaluateVariableResponse{Error: makeNotFoundError(request.Location.RawModuleId)}
	}

	code, err := module.VariableFormatScript(request.Name, request.Location.CodeOffset, s.printer)
	if err != nil {
		slog.Error("evaluateVariable failed", "name", request.Name, "error", err)
		if errors.Is(err, ErrVariableNotFound) {
			return EvaluateVariableResponse{Error: makeError(CodeNotFound, err.Error())}
		}
		return EvaluateVariableResponse{Error: makeError(CodeInternalError, err.Error())}
	}
	return EvaluateVariableResponse{Value: &RawModule{Code: code}}
}
