package elf

import (
	"bytes"

	"github.com/mentos32/kernel/internal/errno"
	"github.com/mentos32/kernel/internal/vfs"
)

// maxShebangLine mirrors Linux's BINPRM_BUF_SIZE - 2: the longest
// "#!interpreter [arg]" line the loader will read before giving up with
// ENAMETOOLONG.
const maxShebangLine = 126

// maxShebangDepth is how deep a "#!" chain may go before a second shebang
// occurrence is rejected: only the original file (depth 0) may itself be a
// script. Its interpreter (depth 1) must resolve directly to an ELF image;
// if the interpreter is itself a "#!" script, that is the second shebang
// occurrence and the loader gives up with ELOOP rather than chaining
// further.
const maxShebangDepth = 1

// Open resolves a path to a vfs.File, the one piece of the VFS this
// package depends on; proc wires its real filesystem lookup in here.
type Open func(path string) (vfs.File, errno.Errno)

// ResolveInterpreter follows at most one "#!" shebang line starting at
// path. It returns the path of the file that is finally an ELF image to
// load (resolvedPath), and tail, the argv entries that belong between
// resolvedPath and the original argv[1:]: for a script this is
// [interpreter's optional arg, path]. If the interpreter is itself a "#!"
// script, it returns ELOOP (see maxShebangDepth).
//
// If path has no shebang line at all, tail is empty and resolvedPath ==
// path.
func ResolveInterpreter(open Open, path string) (tail []string, resolvedPath string, err errno.Errno) {
	return resolve(open, path, 0)
}

func resolve(open Open, path string, depth int) ([]string, string, errno.Errno) {
	f, oerr := open(path)
	if !oerr.Ok() {
		return nil, "", oerr
	}
	head := make([]byte, maxShebangLine+3) // "#!", the line, one byte to detect overflow
	n, rerr := f.Read(head, 0)
	f.Close()
	if !rerr.Ok() {
		return nil, "", rerr
	}
	head = head[:n]
	if len(head) < 2 || head[0] != '#' || head[1] != '!' {
		return nil, path, 0
	}
	if depth >= maxShebangDepth {
		return nil, "", errno.ELOOP
	}
	line := head[2:]
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	} else if len(line) > maxShebangLine {
		return nil, "", errno.ENAMETOOLONG
	}
	line = bytes.TrimRight(line, " \t")
	interp, arg := splitInterpLine(line)
	if interp == "" {
		return nil, "", errno.ENOEXEC
	}

	innerTail, resolvedPath, err := resolve(open, interp, depth+1)
	if !err.Ok() {
		return nil, "", err
	}

	level := make([]string, 0, 2)
	if arg != "" {
		level = append(level, arg)
	}
	level = append(level, path)

	tail := append(append([]string{}, innerTail...), level...)
	return tail, resolvedPath, 0
}

// splitInterpLine splits a shebang line's body into the interpreter path
// and its single optional argument, POSIX-style: the first run of
// whitespace separates them, and everything after that is one argument
// (no further word-splitting).
func splitInterpLine(line []byte) (interp, arg string) {
	line = bytes.TrimLeft(line, " \t")
	i := bytes.IndexAny(line, " \t")
	if i < 0 {
		return string(line), ""
	}
	interp = string(line[:i])
	rest := bytes.TrimLeft(line[i:], " \t")
	return interp, string(rest)
}
