package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// MethodDispatcher implements Dispatcher by routing a job's method name
// ("mail", "bash", "proto", "notify") to the matching helper in
// methods.go / proto.go, the same four-way split WFE.cc's ProcessWorkflow
// makes on the method prefix stored in the entry's action.
type MethodDispatcher struct {
	Files  FileContext
	Mail   MailSender
	Bash   BashRunner
	Notify Notifier
	Proto  ProtoTransport

	ProtoEndpoint string
	ProtoResource string
}

var _ Dispatcher = (*MethodDispatcher)(nil)

// Dispatch runs j's action. Only the bash and proto paths can report a
// transient failure; a missing file or unknown method is permanent.
func (d *MethodDispatcher) Dispatch(ctx context.Context, j *Job) (transient bool, err error) {
	method, args := j.Method()
	switch method {
	case "mail":
		return d.dispatchMail(j, args)
	case "bash":
		return d.dispatchBash(j, args)
	case "proto":
		return d.dispatchProto(ctx, j, args)
	case "notify":
		return d.dispatchNotify(j, args)
	default:
		return false, fmt.Errorf("workflow: unknown method %q", method)
	}
}

func (d *MethodDispatcher) dispatchMail(j *Job, args string) (bool, error) {
	parts := strings.SplitN(args, ":", 2)
	addr := parts[0]
	text := ""
	if len(parts) > 1 {
		text = parts[1]
	}
	text = ExpandArgs(text, d.Files, j.Fid)
	if err := d.Mail.Send(addr, text); err != nil {
		return false, err
	}
	return false, nil
}

func (d *MethodDispatcher) dispatchBash(j *Job, args string) (bool, error) {
	tags, err := RunBash(d.Bash, d.Files, j.Fid, args)
	if err != nil {
		// a script that can't even start is a transient infra problem,
		// not a permanent rejection of this file.
		return true, err
	}
	for key, value := range tags {
		if werr := d.Files.SetFileAttr(j.Fid, key, value); werr != nil {
			glog.Errorf("workflow: failed to write result tag %s on fid %x: %v", key, j.Fid, werr)
		}
	}
	return false, nil
}

func (d *MethodDispatcher) dispatchProto(ctx context.Context, j *Job, args string) (bool, error) {
	event, ok := parseProtoEvent(j.Event)
	if !ok {
		return false, fmt.Errorf("workflow: unrecognized proto event %q", j.Event)
	}

	size, _ := d.Files.Size(j.Fid)
	checksum, _ := d.Files.Checksum(j.Fid)
	req := ProtoRequest{
		Fid:      j.Fid,
		Event:    event,
		DestURL:  args,
		Size:     size,
		Checksum: checksum,
	}

	reqCtx, cancel := context.WithTimeout(ctx, ProtoRequestTimeout)
	defer cancel()

	raw, err := d.Proto.Send(reqCtx, d.ProtoEndpoint, d.ProtoResource, EncodeRequest(req))
	if err != nil {
		return true, err
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return resp.Transient, fmt.Errorf("workflow: proto event %q rejected: %s", j.Event, resp.Message)
	}
	return false, nil
}

func (d *MethodDispatcher) dispatchNotify(j *Job, event string) (bool, error) {
	if event == "" {
		event = j.Event
	}
	if err := d.Notify.Notify(j.Fid, event); err != nil {
		return false, err
	}
	return false, nil
}

func parseProtoEvent(event string) (ProtoEventType, bool) {
	switch strings.TrimPrefix(event, "sync::") {
	case "prepare":
		return EventPrepare, true
	case "abort_prepare":
		return EventAbortPrepare, true
	case "create":
		return EventCreate, true
	case "closew":
		return EventClosew, true
	case "delete":
		return EventDelete, true
	case "archived":
		return EventArchived, true
	default:
		return 0, false
	}
}
