package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"opbridge/envelope"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// newService scans a receiver for methods with the operation signature
// `func (r *Recv) Name(args *Args, reply *Reply) error`.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("executor: receiver must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("executor: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	return svc, nil
}

// registerMethods keeps exported methods matching the operation signature:
// three inputs (receiver, *Args, *Reply), one error output.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

func (s *service) call(mType *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// operationHandler dispatches one request to its registered operation. It is
// the innermost handler of the middleware chain.
//
// Flow: parse "Service.Method" → find method → reflect.New(args) →
// json.Unmarshal(params, args) → reflect.Call → json.Marshal(reply).
func (e *Executor) operationHandler(ctx context.Context, req *envelope.Request) *envelope.Reply {
	split := strings.Split(req.Kind, ".")
	if len(split) != 2 {
		return envelope.ErrReply(req.ID, fmt.Sprintf("invalid operation kind %q", req.Kind))
	}

	svc, ok := e.serviceMap[split[0]]
	if !ok {
		return envelope.ErrReply(req.ID, fmt.Sprintf("unknown operation kind %q", req.Kind))
	}
	method, ok := svc.method[split[1]]
	if !ok {
		return envelope.ErrReply(req.ID, fmt.Sprintf("unknown operation kind %q", req.Kind))
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, argv.Interface()); err != nil {
			return envelope.ErrReply(req.ID, "bad parameters: "+err.Error())
		}
	}

	if err := svc.call(method, argv, replyv); err != nil {
		return envelope.ErrReply(req.ID, err.Error())
	}

	result, err := json.Marshal(replyv.Interface())
	if err != nil {
		return envelope.ErrReply(req.ID, "failed to encode result: "+err.Error())
	}
	return envelope.OKReply(req.ID, result)
}
