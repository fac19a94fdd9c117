package mapsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

var ErrMalformedResponse = errors.New("Malformed response.")

type AckKind int

const (
	AckSuccess AckKind = iota
	AckValidationError
	AckCriticalError
	AckMalformed
)

func (self AckKind) String() string {
	switch self {
	case AckSuccess:
		return "success"
	case AckValidationError:
		return "validation"
	case AckCriticalError:
		return "critical"
	case AckMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

const (
	ErrorTypeValidation = "validation"
	ErrorTypeCritical   = "critical"
)

// the classified acknowledgment of one mutation
type AckResult struct {
	Kind         AckKind
	Data         json.RawMessage
	Code         string
	Message      string
	FullMapState *ServerMap
}

// wire shape. Pointers distinguish missing fields from zero values.
type ackEnvelope struct {
	Success      *bool           `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorType    *string         `json:"errorType,omitempty"`
	Code         *string         `json:"code,omitempty"`
	Message      *string         `json:"message,omitempty"`
	FullMapState json.RawMessage `json:"fullMapState,omitempty"`
}

func malformedAck(format string, a ...any) *AckResult {
	return &AckResult{
		Kind:    AckMalformed,
		Message: fmt.Sprintf(format, a...),
	}
}

// classifies a raw ack. Any shape that fails the type guard is `AckMalformed`,
// whatever the literal value of `success`. An error that carries recovery data that
// fails structural validation is also `AckMalformed`.
func ParseAck(ackBytes []byte) *AckResult {
	var envelope ackEnvelope
	if err := json.Unmarshal(ackBytes, &envelope); err != nil {
		return malformedAck("Ack is not an object: %s", err)
	}
	if envelope.Success == nil {
		return malformedAck("Ack is missing success.")
	}
	if *envelope.Success {
		return &AckResult{
			Kind: AckSuccess,
			Data: envelope.Data,
		}
	}

	if envelope.ErrorType == nil {
		return malformedAck("Error ack is missing errorType.")
	}
	var kind AckKind
	switch *envelope.ErrorType {
	case ErrorTypeValidation:
		kind = AckValidationError
	case ErrorTypeCritical:
		kind = AckCriticalError
	default:
		return malformedAck("Unknown errorType: %s", *envelope.ErrorType)
	}
	if envelope.Code == nil || *envelope.Code == "" {
		return malformedAck("Error ack is missing code.")
	}
	if envelope.Message == nil {
		return malformedAck("Error ack is missing message.")
	}

	result := &AckResult{
		Kind:    kind,
		Code:    *envelope.Code,
		Message: *envelope.Message,
	}

	if len(envelope.FullMapState) != 0 && string(envelope.FullMapState) != "null" {
		var serverMap ServerMap
		if err := json.Unmarshal(envelope.FullMapState, &serverMap); err != nil {
			return malformedAck("fullMapState is not a map: %s", err)
		}
		if err := serverMap.Validate(); err != nil {
			return malformedAck("fullMapState failed validation: %s", err)
		}
		result.FullMapState = &serverMap
	}

	return result
}

// user facing presentation of errors. Rendering is the embedder's concern.
type Notifier interface {
	// non-blocking, dismissible. `operation` names the attempted operation.
	ShowRecoverableError(operation string, message string)
	// blocking and not dismissible. Only a full client reload clears it.
	ShowCriticalError(message string)
	// server pushed notifications. `kind` is info, warning, or error.
	ShowInfo(kind string, message string)
}

// error code -> user facing message
var ErrorCodeMessages = map[string]string{
	"NODE_NOT_FOUND":      "The node you edited no longer exists. The map was reloaded.",
	"PARENT_NOT_FOUND":    "The parent of the node no longer exists. The map was reloaded.",
	"INVALID_NODE_DATA":   "The change was invalid and has been corrected. The map was reloaded.",
	"CIRCULAR_REFERENCE":  "The change would create a cycle and has been corrected. The map was reloaded.",
	"ROOT_NODE_VIOLATION": "The root node cannot be changed this way. The map was reloaded.",
	"MAP_NOT_FOUND":       "This map no longer exists.",
	"UNAUTHORIZED":        "You are not allowed to edit this map.",
	"SERVER_ERROR":        "The server could not save your change. Please reload the page.",
	"DATABASE_ERROR":      "The server could not save your change. Please reload the page.",
	"NETWORK_ERROR":       "The connection to the server failed. Please reload the page.",
	"MALFORMED_RESPONSE":  "The server sent an unexpected response. Please reload the page.",
}

const GenericErrorMessage = "An unexpected error occurred. Please reload the page."

func ErrorMessage(code string) string {
	if message, ok := ErrorCodeMessages[code]; ok {
		return message
	}
	return GenericErrorMessage
}

// loads an authoritative map state into the local document
type ReloadFunction func(serverMap *ServerMap)

// decides, per failed ack, between an authoritative reload and a blocking error
type ErrorRecovery struct {
	notifier Notifier
	reload   ReloadFunction
	throttle *rate.Sometimes

	stateLock sync.Mutex
	blocked   bool
}

// `notificationInterval` is the minimum time between recoverable notifications
func NewErrorRecovery(notifier Notifier, reload ReloadFunction, notificationInterval time.Duration) *ErrorRecovery {
	var throttle *rate.Sometimes
	if 0 < notificationInterval {
		throttle = &rate.Sometimes{Interval: notificationInterval}
	}
	return &ErrorRecovery{
		notifier: notifier,
		reload:   reload,
		throttle: throttle,
	}
}

// true once an unrecoverable error was shown
func (self *ErrorRecovery) Blocked() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.blocked
}

func (self *ErrorRecovery) HandleAck(operation string, ackBytes []byte) *AckResult {
	result := ParseAck(ackBytes)
	self.Handle(operation, result)
	return result
}

func (self *ErrorRecovery) Handle(operation string, result *AckResult) {
	recoveryTotal.WithLabelValues(result.Kind.String()).Inc()

	switch result.Kind {
	case AckSuccess:
		return
	case AckValidationError:
		glog.Infof("[recovery]%s validation error %s: %s\n", operation, result.Code, result.Message)
		if result.FullMapState != nil {
			self.reloadFrom(result.FullMapState)
		}
		self.notifyRecoverable(operation, ErrorMessage(result.Code))
	case AckCriticalError:
		if result.FullMapState != nil {
			glog.Infof("[recovery]%s critical error %s with recovery state: %s\n", operation, result.Code, result.Message)
			self.reloadFrom(result.FullMapState)
			self.notifyRecoverable(operation, ErrorMessage(result.Code))
		} else {
			glog.Errorf("[recovery]%s critical error %s: %s\n", operation, result.Code, result.Message)
			self.block(ErrorMessage(result.Code))
		}
	default:
		glog.Errorf("[recovery]%s malformed response: %s\n", operation, result.Message)
		self.block(GenericErrorMessage)
	}
}

func (self *ErrorRecovery) reloadFrom(serverMap *ServerMap) {
	if self.reload != nil {
		HandleError(func() {
			self.reload(serverMap)
		})
	}
}

func (self *ErrorRecovery) notifyRecoverable(operation string, message string) {
	if self.notifier == nil {
		return
	}
	show := func() {
		HandleError(func() {
			self.notifier.ShowRecoverableError(operation, message)
		})
	}
	if self.throttle != nil {
		self.throttle.Do(show)
	} else {
		show()
	}
}

func (self *ErrorRecovery) block(message string) {
	first := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.blocked {
			return false
		}
		self.blocked = true
		return true
	}()
	if first && self.notifier != nil {
		HandleError(func() {
			self.notifier.ShowCriticalError(message)
		})
	}
}
