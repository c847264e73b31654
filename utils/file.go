package utils

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	FILE_EXT_SHP = ".shp"
	FILE_EXT_CPG = ".cpg"
	FILE_EXT_TIF = ".tif"

	UTF8  = "UTF8"
	UTF_8 = "UTF-8"
)

var (
	ErrNoShpInZip = errors.New("no shp in zip")
)

// 在父目录下创建唯一子目录（用于任务私有工作区）
func GetUniqSubDir(parentPath string) (path string, err error) {
	path = filepath.Join(parentPath, uuid.NewString())
	err = os.MkdirAll(path, os.ModePerm)
	return
}

func GetFilenameWithoutExt(path string) (name string) {
	name = filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(path))
	return
}

// 文件大小，以MB计
func FileSizeMB(path string) (size float64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	size = float64(info.Size()) / (1 << 20)
	return
}

// 解压zip包到目标目录，返回解出的文件路径；非UTF-8的条目名按GBK解码
func Unzip(zipFile, dstDir string) (files []string, err error) {
	zr, err := zip.OpenReader(zipFile)
	if err != nil {
		return
	}
	defer zr.Close()
	for _, f := range zr.File {
		name := f.Name
		if f.NonUTF8 {
			if decoded, e := GbkStrToUtf8(name); e == nil {
				name = decoded
			}
		}
		name = filepath.Base(filepath.Clean(name))
		if f.FileInfo().IsDir() || name == "." {
			continue
		}
		dst := filepath.Join(dstDir, name)
		if err = extractZipEntry(f, dst); err != nil {
			return
		}
		files = append(files, dst)
	}
	return
}

func extractZipEntry(f *zip.File, dst string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return
}

// 从zip包中解出shp文件，返回shp路径及cpg声明的编码是否为UTF-8
func GetShpInZip(zipFile, dstDir string) (path string, utf8 bool, err error) {
	shpFiles, err := Unzip(zipFile, dstDir)
	if err != nil {
		return
	}
	for _, file := range shpFiles {
		if strings.HasSuffix(file, FILE_EXT_SHP) {
			path = file
			continue
		}
		if strings.HasSuffix(file, FILE_EXT_CPG) {
			enc, e := os.ReadFile(file)
			if e == nil && len(enc) > 0 {
				encStr := strings.ToUpper(strings.TrimSpace(string(enc)))
				utf8 = encStr == UTF_8 || encStr == UTF8
			}
		}
	}
	if path == "" {
		err = ErrNoShpInZip
	}
	return
}
