package sync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
)

// CategoryDescriptor describes one kind of vault event exposed by the subgraph.
// Descriptors are immutable; use Categories or LookupCategory to obtain them.
type CategoryDescriptor struct {
	Key    string   // subgraph list field, e.g. "depositEvents"
	Type   string   // stored document tag, e.g. "deposit"
	Fields []string // fields requested, in query order
	decode func(obj gjson.Result) Event
}

func newCategory(key string, fields string, decode func(obj gjson.Result) Event) CategoryDescriptor {
	return CategoryDescriptor{
		Key:    key,
		Type:   TypeTagForKey(key),
		Fields: strings.Fields(fields),
		decode: decode,
	}
}

// TypeTagForKey derives the document tag from a subgraph list field,
// e.g. "depositRequestEvents" -> "depositRequest".
func TypeTagForKey(key string) string {
	return strcase.ToLowerCamel(strings.TrimSuffix(key, "Events"))
}

var categories = []CategoryDescriptor{
	newCategory("depositRequestEvents", "id controller owner requestId sender assets blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return DepositRequestEvent{
				EventBase:  baseFrom(obj),
				Controller: obj.Get("controller").String(),
				Owner:      obj.Get("owner").String(),
				RequestID:  obj.Get("requestId").String(),
				Sender:     obj.Get("sender").String(),
				Assets:     obj.Get("assets").String(),
			}
		}),
	newCategory("redeemRequestEvents", "id controller owner requestId sender shares blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return RedeemRequestEvent{
				EventBase:  baseFrom(obj),
				Controller: obj.Get("controller").String(),
				Owner:      obj.Get("owner").String(),
				RequestID:  obj.Get("requestId").String(),
				Sender:     obj.Get("sender").String(),
				Shares:     obj.Get("shares").String(),
			}
		}),
	newCategory("depositEvents", "id sender owner assets shares blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return DepositEvent{
				EventBase: baseFrom(obj),
				Sender:    obj.Get("sender").String(),
				Owner:     obj.Get("owner").String(),
				Assets:    obj.Get("assets").String(),
				Shares:    obj.Get("shares").String(),
			}
		}),
	newCategory("newTotalAssetsUpdatedEvents", "id totalAssets blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return NewTotalAssetsUpdatedEvent{
				EventBase:   baseFrom(obj),
				TotalAssets: obj.Get("totalAssets").String(),
			}
		}),
	newCategory("settleRedeemEvents", "id epochId settledId totalAssets totalSupply assetsWithdrawed sharesBurned blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return SettleRedeemEvent{
				EventBase:        baseFrom(obj),
				EpochID:          obj.Get("epochId").String(),
				SettledID:        obj.Get("settledId").String(),
				TotalAssets:      obj.Get("totalAssets").String(),
				TotalSupply:      obj.Get("totalSupply").String(),
				AssetsWithdrawed: obj.Get("assetsWithdrawed").String(),
				SharesBurned:     obj.Get("sharesBurned").String(),
			}
		}),
	newCategory("settleDepositEvents", "id epochId settledId totalAssets totalSupply assetsDeposited sharesMinted blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return SettleDepositEvent{
				EventBase:       baseFrom(obj),
				EpochID:         obj.Get("epochId").String(),
				SettledID:       obj.Get("settledId").String(),
				TotalAssets:     obj.Get("totalAssets").String(),
				TotalSupply:     obj.Get("totalSupply").String(),
				AssetsDeposited: obj.Get("assetsDeposited").String(),
				SharesMinted:    obj.Get("sharesMinted").String(),
			}
		}),
	newCategory("totalAssetsUpdatedEvents", "id totalAssets blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return TotalAssetsUpdatedEvent{
				EventBase:   baseFrom(obj),
				TotalAssets: obj.Get("totalAssets").String(),
			}
		}),
	newCategory("highWaterMarkUpdatedEvents", "id oldHighWaterMark newHighWaterMark blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return HighWaterMarkUpdatedEvent{
				EventBase:        baseFrom(obj),
				OldHighWaterMark: obj.Get("oldHighWaterMark").String(),
				NewHighWaterMark: obj.Get("newHighWaterMark").String(),
			}
		}),
	newCategory("withdrawEvents", "id sender receiver owner assets shares blockNumber blockTimestamp transactionHash",
		func(obj gjson.Result) Event {
			return WithdrawEvent{
				EventBase:   baseFrom(obj),
				Sender:      obj.Get("sender").String(),
				Receiver:    obj.Get("receiver").String(),
				Owner:       obj.Get("owner").String(),
				Assets:      obj.Get("assets").String(),
				Shares:      obj.Get("shares").String(),
				BlockNumber: obj.Get("blockNumber").String(),
			}
		}),
}

// Categories returns every known category in sync order.
func Categories() []CategoryDescriptor {
	result := make([]CategoryDescriptor, len(categories))
	copy(result, categories)
	return result
}

// LookupCategory finds a category by key or by type tag.
func LookupCategory(name string) (CategoryDescriptor, bool) {
	for _, c := range categories {
		if c.Key == name || c.Type == name {
			return c, true
		}
	}
	return CategoryDescriptor{}, false
}

// SelectCategories returns the named categories in sync order.
// An empty selection means every category.
func SelectCategories(names []string) ([]CategoryDescriptor, error) {
	if len(names) == 0 {
		return Categories(), nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		c, ok := LookupCategory(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("unknown event category %q", n)
		}
		wanted[c.Key] = true
	}
	var result []CategoryDescriptor
	for _, c := range categories {
		if wanted[c.Key] {
			result = append(result, c)
		}
	}
	return result, nil
}

// Decode validates that obj carries every requested field and builds the typed event.
func (c CategoryDescriptor) Decode(obj gjson.Result) (RawEvent, error) {
	if !obj.IsObject() {
		return RawEvent{}, &DecodeError{Category: c.Key, Err: errors.New("record is not an object")}
	}
	for _, field := range c.Fields {
		if !obj.Get(field).Exists() {
			return RawEvent{}, &DecodeError{Category: c.Key, Field: field, Err: ErrMissingField}
		}
	}
	e := c.decode(obj)
	if e.EventID() == "" {
		return RawEvent{}, &DecodeError{Category: c.Key, Field: "id", Err: ErrMissingField}
	}
	if e.Watermark() == "" {
		return RawEvent{}, &DecodeError{Category: c.Key, Field: "blockTimestamp", Err: ErrMissingField}
	}
	return RawEvent{Category: c.Key, Event: e, raw: obj.Raw}, nil
}
