// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package entity

import (
	"fmt"
	"sort"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/p4rt-go/p4rt/pkg/p4rt/p4info"
	"github.com/p4rt-go/p4rt/pkg/private/serrors"
)

// Action is a direct action invocation with named arguments. Encoding
// requires an exact match between Params and the schema's declared parameter
// set.
type Action struct {
	Name   string
	Params map[string]Value
}

// NewAction constructs an action. Params may be nil for argument-less
// actions.
func NewAction(name string, params map[string]Value) *Action {
	return &Action{Name: name, Params: params}
}

func (a *Action) encode(schema *p4info.Schema) (*p4v1.Action, error) {
	action, ok := schema.Action(a.Name)
	if !ok {
		return nil, serrors.New(fmt.Sprintf("no action named %q", a.Name))
	}
	for name := range a.Params {
		if _, ok := action.Param(name); !ok {
			return nil, serrors.New(fmt.Sprintf("no action parameter named %q", name),
				"action", a.Name)
		}
	}
	if len(a.Params) < len(action.Params) {
		var missing []string
		for _, p := range action.Params {
			if _, ok := a.Params[p.Name]; !ok {
				missing = append(missing, p.Name)
			}
		}
		sort.Strings(missing)
		return nil, serrors.New(fmt.Sprintf("missing parameters %v", missing),
			"action", a.Name)
	}
	msg := &p4v1.Action{ActionId: action.ID}
	for _, param := range action.Params {
		raw, err := encodeValue(a.Params[param.Name], param.Bitwidth, "action parameter", param.Name)
		if err != nil {
			return nil, err
		}
		msg.Params = append(msg.Params, &p4v1.Action_Param{
			ParamId: param.ID,
			Value:   raw,
		})
	}
	return msg, nil
}

func decodeAction(msg *p4v1.Action, schema *p4info.Schema) (*Action, error) {
	action, ok := schema.ActionByID(msg.GetActionId())
	if !ok {
		return nil, serrors.New(fmt.Sprintf("no action with id %d", msg.GetActionId()))
	}
	result := &Action{Name: action.Alias}
	if len(msg.GetParams()) > 0 {
		result.Params = make(map[string]Value, len(msg.GetParams()))
	}
	for _, p := range msg.GetParams() {
		param, ok := action.ParamByID(p.GetParamId())
		if !ok {
			return nil, serrors.New(
				fmt.Sprintf("no action parameter with id %d", p.GetParamId()),
				"action", action.Alias)
		}
		result.Params[param.Name] = decodeValue(p.GetValue())
	}
	return result, nil
}

// WeightedAction is one member of a one-shot action set.
type WeightedAction struct {
	Weight int32
	Action *Action
	// WatchPort optionally ties the member's liveness to a port.
	WatchPort Value
}

// IndirectAction references an action through an action profile. Exactly one
// of ActionSet (one-shot), GroupID, or MemberID must be populated.
type IndirectAction struct {
	ActionSet []WeightedAction
	GroupID   uint32
	MemberID  uint32
}

func (a *IndirectAction) validate() error {
	populated := 0
	if len(a.ActionSet) > 0 {
		populated++
	}
	if a.GroupID != 0 {
		populated++
	}
	if a.MemberID != 0 {
		populated++
	}
	switch populated {
	case 0:
		return serrors.New("empty indirect action")
	case 1:
		return nil
	default:
		return serrors.New("ambiguous indirect action",
			"action_set", len(a.ActionSet), "group_id", a.GroupID, "member_id", a.MemberID)
	}
}

// encodeTableAction serializes the action slot of a table entry. Direct and
// indirect forms are mutually exclusive wire shapes of the same oneof.
func encodeTableAction(direct *Action, indirect *IndirectAction,
	schema *p4info.Schema) (*p4v1.TableAction, error) {

	if direct != nil && indirect != nil {
		return nil, serrors.New("both direct and indirect action set")
	}
	if direct != nil {
		msg, err := direct.encode(schema)
		if err != nil {
			return nil, err
		}
		return &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: msg}}, nil
	}
	if err := indirect.validate(); err != nil {
		return nil, err
	}
	switch {
	case len(indirect.ActionSet) > 0:
		set := &p4v1.ActionProfileActionSet{}
		for _, wa := range indirect.ActionSet {
			msg, err := wa.Action.encode(schema)
			if err != nil {
				return nil, err
			}
			apa := &p4v1.ActionProfileAction{Action: msg, Weight: wa.Weight}
			if len(wa.WatchPort) > 0 {
				apa.WatchKind = &p4v1.ActionProfileAction_WatchPort{
					WatchPort: Bytes(wa.WatchPort),
				}
			}
			set.ActionProfileActions = append(set.ActionProfileActions, apa)
		}
		return &p4v1.TableAction{
			Type: &p4v1.TableAction_ActionProfileActionSet{ActionProfileActionSet: set},
		}, nil
	case indirect.GroupID != 0:
		return &p4v1.TableAction{
			Type: &p4v1.TableAction_ActionProfileGroupId{ActionProfileGroupId: indirect.GroupID},
		}, nil
	default:
		return &p4v1.TableAction{
			Type: &p4v1.TableAction_ActionProfileMemberId{ActionProfileMemberId: indirect.MemberID},
		}, nil
	}
}

// decodeTableAction recognizes which of the mutually exclusive action shapes
// is present and decodes it.
func decodeTableAction(msg *p4v1.TableAction,
	schema *p4info.Schema) (*Action, *IndirectAction, error) {

	switch t := msg.GetType().(type) {
	case *p4v1.TableAction_Action:
		action, err := decodeAction(t.Action, schema)
		if err != nil {
			return nil, nil, err
		}
		return action, nil, nil
	case *p4v1.TableAction_ActionProfileMemberId:
		return nil, &IndirectAction{MemberID: t.ActionProfileMemberId}, nil
	case *p4v1.TableAction_ActionProfileGroupId:
		return nil, &IndirectAction{GroupID: t.ActionProfileGroupId}, nil
	case *p4v1.TableAction_ActionProfileActionSet:
		indirect := &IndirectAction{}
		for _, apa := range t.ActionProfileActionSet.GetActionProfileActions() {
			action, err := decodeAction(apa.GetAction(), schema)
			if err != nil {
				return nil, nil, err
			}
			wa := WeightedAction{Weight: apa.GetWeight(), Action: action}
			if wp := apa.GetWatchPort(); len(wp) > 0 {
				wa.WatchPort = decodeValue(wp)
			}
			indirect.ActionSet = append(indirect.ActionSet, wa)
		}
		return nil, indirect, nil
	default:
		return nil, nil, serrors.New("unrecognized table action type")
	}
}
