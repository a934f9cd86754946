package host

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// headerLimit bounds the size of all header lines together.
const headerLimit = 64 << 10

// errInvalidHead marks a head that was read but cannot be served, it is answered as an invalid resource request.
var errInvalidHead = errors.New("invalid request head")

var errLineTooLong = errors.New("line exceeds the read buffer")

type head struct {
	method string
	uri    string
	header string
}

// readHead reads the request line and the header lines up to the blank line. The body, if any, is left unread.
func readHead(conn net.Conn, timeout time.Duration) (head, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return head{}, errors.Wrap(err, "set read deadline")
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	rd := bufio.NewReaderSize(conn, MethodLimit+URILimit+64)

	var tooLong bool
	line, err := readLine(rd)
	switch {
	case errors.Is(err, errLineTooLong):
		tooLong = true
	case err != nil:
		return head{}, errors.Wrap(err, "read request line")
	}

	var h head
	h.method, line, _ = strings.Cut(line, " ")
	h.uri, _, _ = strings.Cut(line, " ")

	var lines []string
	var size int
	for {
		line, err := readLine(rd)
		switch {
		case errors.Is(err, errLineTooLong):
			tooLong = true
			continue
		case err != nil:
			return head{}, errors.Wrap(err, "read header line")
		}
		if line == "" {
			break
		}

		size += len(line)
		if size > headerLimit {
			return head{}, errors.Mark(errors.Newf("header exceeds %d bytes", headerLimit), errInvalidHead)
		}
		lines = append(lines, line)
	}

	// answered only once the whole head was read
	if tooLong {
		return head{}, errors.Mark(errLineTooLong, errInvalidHead)
	}

	h.header = strings.Join(lines, "\n")
	return h, nil
}

func readLine(rd *bufio.Reader) (string, error) {
	b, err := rd.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", skipLine(rd)
	} else if err != nil {
		return "", err //nolint:wrapcheck
	}

	return strings.TrimRight(string(b), "\r\n"), nil
}

// skipLine discards the rest of a line that did not fit the reader's buffer, up to headerLimit bytes.
func skipLine(rd *bufio.Reader) error {
	for n := 0; n < headerLimit; {
		b, err := rd.ReadSlice('\n')
		n += len(b)
		switch {
		case err == nil:
			return errLineTooLong
		case !errors.Is(err, bufio.ErrBufferFull):
			return err //nolint:wrapcheck
		}
	}
	return errors.Mark(errors.Newf("line exceeds %d bytes", headerLimit), errInvalidHead)
}
