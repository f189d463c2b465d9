package mock

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/govm-net/teebridge/core"
	"github.com/govm-net/teebridge/errors"
	"github.com/govm-net/teebridge/types"
)

// CounterCode is the code registered for Counter in tests and the CLI.
var CounterCode = []byte("native:counter:v1")

const counterKey = "state"

type CounterState struct {
	Count int64  `json:"count"`
	Owner string `json:"owner"`
}

type countMsg struct {
	Count int64 `json:"count"`
}

// Counter is the reference contract.
//
//	instantiate {"count":n}
//	execute     {"increment":{}} | {"reset":{"count":n}}
//	query       {"get_count":{}} | {"write":{"count":n}}
//	migrate     {"count":n}
//
// The write query attempts a state change and always fails.
type Counter struct{}

var _ core.Contract = Counter{}

func (Counter) Instantiate(deps core.Deps, env types.Env, info types.MessageInfo, msg []byte) (*core.Response, error) {
	var m countMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	st := CounterState{Count: m.Count, Owner: info.Sender}
	if err := core.SaveJSON(deps, "instantiate", counterKey, st); err != nil {
		return nil, err
	}
	return &core.Response{Attributes: []types.Event{
		core.Attr("method", "instantiate"),
		core.Attr("owner", info.Sender),
		core.Attr("count", strconv.FormatInt(st.Count, 10)),
	}}, nil
}

func (Counter) Execute(deps core.Deps, env types.Env, info types.MessageInfo, msg []byte) (*core.Response, error) {
	name, body, err := core.MessageName(msg)
	if err != nil {
		return nil, err
	}
	st, err := loadCounter(deps)
	if err != nil {
		return nil, err
	}

	switch name {
	case "increment":
		st.Count++
	case "reset":
		if info.Sender != st.Owner {
			return nil, errors.Unauthorized("only %s may reset the counter", st.Owner)
		}
		var m countMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		st.Count = m.Count
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownMessage, name)
	}

	if err := core.SaveJSON(deps, "execute", counterKey, st); err != nil {
		return nil, err
	}
	data, _ := json.Marshal(countMsg{Count: st.Count})
	return &core.Response{
		Data: data,
		Attributes: []types.Event{
			core.Attr("method", name),
			core.Attr("count", strconv.FormatInt(st.Count, 10)),
		},
	}, nil
}

func (Counter) Query(deps core.Deps, env types.Env, msg []byte) ([]byte, error) {
	name, body, err := core.MessageName(msg)
	if err != nil {
		return nil, err
	}
	switch name {
	case "get_count":
		st, err := loadCounter(deps)
		if err != nil {
			return nil, err
		}
		return json.Marshal(countMsg{Count: st.Count})
	case "write":
		var m countMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		st, err := loadCounter(deps)
		if err != nil {
			return nil, err
		}
		st.Count = m.Count
		if err := core.SaveJSON(deps, "query", counterKey, st); err != nil {
			return nil, err
		}
		return json.Marshal(countMsg{Count: st.Count})
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnknownMessage, name)
}

func (Counter) Migrate(deps core.Deps, env types.Env, msg []byte) (*core.Response, error) {
	st, err := loadCounter(deps)
	if err != nil {
		return nil, err
	}
	var m struct {
		Count *int64 `json:"count"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if m.Count != nil {
		st.Count = *m.Count
	}
	if err := core.SaveJSON(deps, "migrate", counterKey, st); err != nil {
		return nil, err
	}
	return &core.Response{Attributes: []types.Event{
		core.Attr("method", "migrate"),
		core.Attr("count", strconv.FormatInt(st.Count, 10)),
	}}, nil
}

func loadCounter(deps core.Deps) (CounterState, error) {
	var st CounterState
	ok, err := core.LoadJSON(deps, counterKey, &st)
	if err != nil {
		return st, err
	}
	if !ok {
		return st, fmt.Errorf("%w: counter state", core.ErrNotFound)
	}
	return st, nil
}
