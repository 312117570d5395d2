package sync

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrMissingField = errors.New("missing required field")

// DecodeError reports an upstream record that does not match its category's field set.
type DecodeError struct {
	Category string
	Index    int
	Field    string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s[%d]: field %q: %v", e.Category, e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s[%d]: %v", e.Category, e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Event is implemented by every typed vault event.
type Event interface {
	EventID() string
	Watermark() Watermark
	EventType() string
}

// EventBase holds the fields every subgraph event entity carries.
type EventBase struct {
	ID              string `json:"id"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

func (b EventBase) EventID() string {
	return b.ID
}

func (b EventBase) Watermark() Watermark {
	return Watermark(b.BlockTimestamp)
}

func baseFrom(obj gjson.Result) EventBase {
	return EventBase{
		ID:              obj.Get("id").String(),
		BlockTimestamp:  obj.Get("blockTimestamp").String(),
		TransactionHash: obj.Get("transactionHash").String(),
	}
}

type DepositRequestEvent struct {
	EventBase
	Controller string `json:"controller"`
	Owner      string `json:"owner"`
	RequestID  string `json:"requestId"`
	Sender     string `json:"sender"`
	Assets     string `json:"assets"`
}

func (DepositRequestEvent) EventType() string { return "depositRequest" }

type RedeemRequestEvent struct {
	EventBase
	Controller string `json:"controller"`
	Owner      string `json:"owner"`
	RequestID  string `json:"requestId"`
	Sender     string `json:"sender"`
	Shares     string `json:"shares"`
}

func (RedeemRequestEvent) EventType() string { return "redeemRequest" }

type DepositEvent struct {
	EventBase
	Sender string `json:"sender"`
	Owner  string `json:"owner"`
	Assets string `json:"assets"`
	Shares string `json:"shares"`
}

func (DepositEvent) EventType() string { return "deposit" }

type NewTotalAssetsUpdatedEvent struct {
	EventBase
	TotalAssets string `json:"totalAssets"`
}

func (NewTotalAssetsUpdatedEvent) EventType() string { return "newTotalAssetsUpdated" }

type SettleRedeemEvent struct {
	EventBase
	EpochID          string `json:"epochId"`
	SettledID        string `json:"settledId"`
	TotalAssets      string `json:"totalAssets"`
	TotalSupply      string `json:"totalSupply"`
	AssetsWithdrawed string `json:"assetsWithdrawed"`
	SharesBurned     string `json:"sharesBurned"`
}

func (SettleRedeemEvent) EventType() string { return "settleRedeem" }

type SettleDepositEvent struct {
	EventBase
	EpochID         string `json:"epochId"`
	SettledID       string `json:"settledId"`
	TotalAssets     string `json:"totalAssets"`
	TotalSupply     string `json:"totalSupply"`
	AssetsDeposited string `json:"assetsDeposited"`
	SharesMinted    string `json:"sharesMinted"`
}

func (SettleDepositEvent) EventType() string { return "settleDeposit" }

type TotalAssetsUpdatedEvent struct {
	EventBase
	TotalAssets string `json:"totalAssets"`
}

func (TotalAssetsUpdatedEvent) EventType() string { return "totalAssetsUpdated" }

type HighWaterMarkUpdatedEvent struct {
	EventBase
	OldHighWaterMark string `json:"oldHighWaterMark"`
	NewHighWaterMark string `json:"newHighWaterMark"`
}

func (HighWaterMarkUpdatedEvent) EventType() string { return "highWaterMarkUpdated" }

type WithdrawEvent struct {
	EventBase
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Owner       string `json:"owner"`
	Assets      string `json:"assets"`
	Shares      string `json:"shares"`
	BlockNumber string `json:"blockNumber"`
}

func (WithdrawEvent) EventType() string { return "withdraw" }

// RawEvent is one upstream record, kept verbatim, together with its typed form.
type RawEvent struct {
	Category string
	Event    Event
	raw      string
}

func (e RawEvent) ID() string {
	return e.Event.EventID()
}

func (e RawEvent) Watermark() Watermark {
	return e.Event.Watermark()
}

// Raw returns the JSON object exactly as the subgraph served it.
func (e RawEvent) Raw() string {
	return e.raw
}

// Get reads a field of the upstream record using a gjson path.
func (e RawEvent) Get(path string) gjson.Result {
	return gjson.Get(e.raw, path)
}

// Tagged returns the record as a document ready for the event store.
func (e RawEvent) Tagged(eventType string) (StoredEvent, error) {
	doc, err := sjson.SetBytes([]byte(e.raw), "type", eventType)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("tag %s %s: %w", e.Category, e.ID(), err)
	}
	return StoredEvent{
		ID:             e.ID(),
		Type:           eventType,
		Category:       e.Category,
		BlockTimestamp: e.Watermark(),
		Document:       doc,
	}, nil
}

// DecodeEvents validates and decodes the list a category query returned.
// A null list is an empty page; a missing key is an error.
func DecodeEvents(category CategoryDescriptor, list gjson.Result) ([]RawEvent, error) {
	if list.Exists() && list.Type == gjson.Null {
		return []RawEvent{}, nil
	}
	if !list.Exists() {
		return nil, &DecodeError{Category: category.Key, Index: -1, Err: errors.New("category missing from response")}
	}
	if !list.IsArray() {
		return nil, &DecodeError{Category: category.Key, Index: -1, Err: errors.New("category is not a list")}
	}
	items := list.Array()
	result := make([]RawEvent, 0, len(items))
	for i, item := range items {
		e, err := category.Decode(item)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				decodeErr.Index = i
			}
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}
