/*
 * compressed.go, part of metromc.
 *
 *
 * Copyright 2025 Raul Mera <rmera{at}chemDOThelsinkiDOTfi>
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 *
 */

package metromc

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// multiCloser closes a decompressor and then the file under it.
type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// isCompressed tells, from the file extension, whether a file is gzip-compressed.
func isCompressed(fname string) bool {
	return strings.ToLower(filepath.Ext(fname)) == ".gz"
}

// openSource opens the file fname and returns an object that will read data from it,
// either 'as is' or decompressing first, depending on the extension (.gz for gzip).
func openSource(fname string) (io.ReadCloser, error) {
	fhandle, err := os.Open(fname)
	if err != nil {
		return nil, Wrap(ErrStructureParse, "openSource", err, "can't open %s", fname)
	}
	if !isCompressed(fname) {
		return fhandle, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(fhandle))
	if err != nil {
		fhandle.Close()
		return nil, Wrap(ErrStructureParse, "openSource", err, "%s is not a valid gzip file", fname)
	}
	return &multiCloser{Reader: zr, closers: []io.Closer{zr, fhandle}}, nil
}

// ReadPOSCARFile reads the POSCAR file fname, which can be gzip-compressed.
func ReadPOSCARFile(fname string) (*Structure, error) {
	src, err := openSource(fname)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	S, err := ReadPOSCAR(src)
	if err != nil {
		return nil, Decorate(err, "ReadPOSCARFile: "+fname)
	}
	return S, nil
}

// WritePOSCARFile writes S to the POSCAR file fname, gzip-compressed if the name
// ends in .gz. The file is written to a temporary name in the same folder and then
// renamed, so fname is never seen half-written.
func WritePOSCARFile(fname string, S *Structure) error {
	return WriteFileAtomic(fname, func(w io.Writer) error {
		if !isCompressed(fname) {
			return WritePOSCAR(w, S)
		}
		zw := gzip.NewWriter(w)
		if err := WritePOSCAR(zw, S); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}

// WriteFileAtomic creates fname with the content produced by write. The data goes to a
// temporary file in the same folder, which is synced and renamed over fname only if
// everything went well.
func WriteFileAtomic(fname string, write func(io.Writer) error) error {
	dir := filepath.Dir(fname)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fname)+".tmp*")
	if err != nil {
		return err
	}
	tmpname := tmp.Name()
	defer os.Remove(tmpname) //harmless after a successful rename
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpname, fname); err != nil {
		return err
	}
	//so the rename itself survives a crash
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
