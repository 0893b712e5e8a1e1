//go:build windows

package dcom

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/jmharte/secprobe/pkg/transport"
)

// S_FALSE from CoInitializeEx means COM was already initialized on
// this thread, which is fine.
const sFalse = 0x00000001

// HKEY_LOCAL_MACHINE handle for StdRegProv.
const hklm uint32 = 0x80000002

// validateNamespace is connected during Open so authentication
// failures surface there instead of on the first query.
const validateNamespace = `root\cimv2`

// session owns a dedicated goroutine locked to one OS thread. COM
// apartments are per-thread, so every COM call must run on the thread
// that called CoInitializeEx; do marshals work onto that goroutine.
type session struct {
	calls chan call
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	host string
	user string
	pass string

	// Touched only from the loop goroutine.
	locator  *ole.IDispatch
	services map[string]*ole.IDispatch
}

type call struct {
	fn  func() error
	err chan error
}

// Open connects to host's WMI service over DCOM. Empty credentials
// use the calling process identity. The context is not consulted:
// COM calls are synchronous and bounded by DCOM's own timeouts.
func Open(_ context.Context, host string, creds *transport.Credentials, _ transport.Options) (transport.Session, error) {
	s := &session{
		calls:    make(chan call),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		host:     host,
		services: make(map[string]*ole.IDispatch),
	}
	if creds != nil {
		s.user = creds.Username
		s.pass = creds.Password
	}

	initErr := make(chan error, 1)
	go s.loop(initErr)
	if err := <-initErr; err != nil {
		<-s.done
		return nil, &transport.ConnectError{Host: host, Kind: Kind, Err: err}
	}

	if err := s.do(func() error {
		_, err := s.connect(validateNamespace)
		return err
	}); err != nil {
		s.Close()
		return nil, &transport.ConnectError{Host: host, Kind: Kind, Err: err}
	}
	return s, nil
}

// loop pins itself to an OS thread, initializes COM there, and serves
// marshaled calls until Close. CoUninitialize runs on the same thread
// as CoInitializeEx.
func (s *session) loop(initErr chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	if err := s.initCOM(); err != nil {
		initErr <- err
		return
	}
	initErr <- nil

	for {
		select {
		case <-s.quit:
			s.teardown()
			return
		case c := <-s.calls:
			c.err <- c.fn()
		}
	}
}

func (s *session) initCOM() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oe *ole.OleError
		if !errors.As(err, &oe) || (oe.Code() != uintptr(ole.S_OK) && oe.Code() != uintptr(sFalse)) {
			return err
		}
	}

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		ole.CoUninitialize()
		return err
	}
	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		ole.CoUninitialize()
		return err
	}
	s.locator = locator
	return nil
}

func (s *session) teardown() {
	for _, svc := range s.services {
		svc.Release()
	}
	s.services = nil
	if s.locator != nil {
		s.locator.Release()
		s.locator = nil
	}
	ole.CoUninitialize()
}

// do runs fn on the session's COM thread and returns its error.
func (s *session) do(fn func() error) error {
	c := call{fn: fn, err: make(chan error, 1)}
	select {
	case s.calls <- c:
		return <-c.err
	case <-s.quit:
		return fmt.Errorf("session to %s is closed", s.host)
	}
}

// connect returns the SWbemServices for a namespace, dialing and
// caching it on first use. Runs on the COM thread.
func (s *session) connect(namespace string) (*ole.IDispatch, error) {
	if svc, ok := s.services[namespace]; ok {
		return svc, nil
	}

	raw, err := oleutil.CallMethod(s.locator, "ConnectServer", s.host, namespace, s.user, s.pass)
	if err != nil {
		return nil, fmt.Errorf("ConnectServer %s %s: %w", s.host, namespace, err)
	}
	svc := raw.ToIDispatch()
	s.services[namespace] = svc
	return svc, nil
}

func (s *session) Query(_ context.Context, namespace, class string, fields []string) ([]transport.Object, error) {
	var rows []transport.Object
	err := s.do(func() error {
		svc, err := s.connect(namespace)
		if err != nil {
			return err
		}

		wql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), class)
		resultRaw, err := oleutil.CallMethod(svc, "ExecQuery", wql)
		if err != nil {
			return err
		}
		result := resultRaw.ToIDispatch()
		defer result.Release()

		return oleutil.ForEach(result, func(v *ole.VARIANT) error {
			item := v.ToIDispatch()
			defer item.Release()

			row := make(transport.Object, len(fields))
			for _, f := range fields {
				pv, perr := oleutil.GetProperty(item, f)
				if perr != nil {
					continue
				}
				if val := pv.Value(); val != nil {
					row[f] = val
				}
				pv.Clear()
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, s.queryError(namespace, class, err)
	}
	return rows, nil
}

func (s *session) RegValue(_ context.Context, path, name string) (uint32, error) {
	var ret int64
	var value uint32
	err := s.do(func() error {
		svc, err := s.connect(`root\default`)
		if err != nil {
			return err
		}
		ret, value, err = s.regDWORD(svc, path, name)
		return err
	})
	if err != nil {
		return 0, s.queryError(`root\default`, "StdRegProv", err)
	}
	if ret != 0 {
		return 0, &transport.QueryError{
			Namespace: `root\default`,
			Class:     "StdRegProv",
			Err:       fmt.Errorf("GetDWORDValue %s\\%s returned %d", path, name, ret),
		}
	}
	return value, nil
}

// regDWORD invokes StdRegProv.GetDWORDValue through ExecMethod_,
// which is the only late-binding route that exposes the method's out
// parameters (ReturnValue, uValue). Runs on the COM thread.
func (s *session) regDWORD(svc *ole.IDispatch, path, name string) (int64, uint32, error) {
	regRaw, err := oleutil.CallMethod(svc, "Get", "StdRegProv")
	if err != nil {
		return 0, 0, err
	}
	reg := regRaw.ToIDispatch()
	defer reg.Release()

	methodsRaw, err := oleutil.GetProperty(reg, "Methods_")
	if err != nil {
		return 0, 0, err
	}
	methods := methodsRaw.ToIDispatch()
	defer methods.Release()

	methodRaw, err := oleutil.CallMethod(methods, "Item", "GetDWORDValue")
	if err != nil {
		return 0, 0, err
	}
	method := methodRaw.ToIDispatch()
	defer method.Release()

	inDefRaw, err := oleutil.GetProperty(method, "InParameters")
	if err != nil {
		return 0, 0, err
	}
	inDef := inDefRaw.ToIDispatch()
	defer inDef.Release()

	inRaw, err := oleutil.CallMethod(inDef, "SpawnInstance_")
	if err != nil {
		return 0, 0, err
	}
	in := inRaw.ToIDispatch()
	defer in.Release()

	if _, err := oleutil.PutProperty(in, "hDefKey", hklm); err != nil {
		return 0, 0, err
	}
	if _, err := oleutil.PutProperty(in, "sSubKeyName", path); err != nil {
		return 0, 0, err
	}
	if _, err := oleutil.PutProperty(in, "sValueName", name); err != nil {
		return 0, 0, err
	}

	outRaw, err := oleutil.CallMethod(reg, "ExecMethod_", "GetDWORDValue", in)
	if err != nil {
		return 0, 0, err
	}
	out := outRaw.ToIDispatch()
	defer out.Release()

	retRaw, err := oleutil.GetProperty(out, "ReturnValue")
	if err != nil {
		return 0, 0, err
	}
	ret, _ := transport.AsInt(retRaw.Value())
	retRaw.Clear()
	if ret != 0 {
		return ret, 0, nil
	}

	valRaw, err := oleutil.GetProperty(out, "uValue")
	if err != nil {
		return 0, 0, err
	}
	defer valRaw.Clear()
	v, ok := transport.AsInt(valRaw.Value())
	if !ok {
		return 0, 0, fmt.Errorf("uValue has unexpected type %T", valRaw.Value())
	}
	return 0, uint32(v), nil
}

// queryError wraps err with the CIM status code extracted from the
// COM exception, when one is present.
func (s *session) queryError(namespace, class string, err error) error {
	var qe *transport.QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &transport.QueryError{
		Namespace: namespace,
		Class:     class,
		Code:      scode(err),
		Err:       err,
	}
}

// scode digs the WMI status code out of an OLE automation error.
func scode(err error) uint32 {
	var oe *ole.OleError
	if !errors.As(err, &oe) {
		return 0
	}
	switch ei := oe.SubError().(type) {
	case *ole.EXCEPINFO:
		return uint32(ei.SCODE())
	case ole.EXCEPINFO:
		return uint32(ei.SCODE())
	}
	return uint32(oe.Code())
}

// Close stops the COM thread after it releases every cached namespace
// connection and the locator. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}
