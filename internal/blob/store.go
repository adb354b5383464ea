// Package blob はS3互換オブジェクトストレージ（Cloudflare R2 / MinIO）へのファイル保存を提供する。
package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hitoshi/alumni/internal/model"
)

// ObjectAPI はStoreが利用するS3クライアントの操作。*s3.Client が満たす。
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// MediaExtensions はプロフィールのアバター・履歴書で許可する拡張子。
var MediaExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "svg", "pdf", "doc", "docx"}

// GenericExtensions は汎用ファイルアップロードで許可する拡張子。
var GenericExtensions = append(append([]string{}, MediaExtensions...),
	"xls", "xlsx", "ppt", "pptx", "txt", "csv", "zip", "rar")

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"zip":  "application/zip",
	"rar":  "application/vnd.rar",
}

const defaultContentType = "application/octet-stream"

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// PutOptions はアップロード時のオプション。
type PutOptions struct {
	// Folder はキーのプレフィックス（例: "avatars"）。空の場合はバケット直下。
	Folder string
	// Filename は元ファイル名の代わりにキーのベース名として使う名前。
	Filename string
	// ContentType が空の場合は拡張子から決定する。
	ContentType string
	// Extensions は許可する拡張子。nilの場合はGenericExtensions。
	Extensions []string
}

// Store はオブジェクトストレージのアダプタ。プロセス起動時に1度だけ生成して共有する。
type Store struct {
	client    ObjectAPI
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewStore はStoreを生成する。publicURLは公開URLのベース（末尾の/は除去する）。
func NewStore(client ObjectAPI, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Put はファイルをアップロードし、保存先のキーと公開URLを返す。
// 拡張子が許可リストにない場合はInvalidFileTypeエラーを返す。
func (s *Store) Put(ctx context.Context, data []byte, originalName string, opts PutOptions) (*model.Blob, error) {
	ext, err := extensionOf(originalName)
	if err != nil {
		return nil, err
	}
	allowed := opts.Extensions
	if allowed == nil {
		allowed = GenericExtensions
	}
	if !contains(allowed, ext) {
		return nil, model.NewInvalidFileTypeError(
			fmt.Sprintf("File type .%s is not allowed. Allowed types: %s", ext, strings.Join(allowed, ", ")))
	}

	key, err := s.generateKey(originalName, ext, opts)
	if err != nil {
		return nil, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	return &model.Blob{
		Key:         key,
		URL:         s.URLFor(key),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// Delete はオブジェクトを削除する。致命的かどうかは呼び出し側が判断する。
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists はHeadObjectでオブジェクトの存在を確認する。
// 存在しない場合は(false, nil)、それ以外のバックエンドエラーはそのまま返す。
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

// URLFor は公開URLを組み立てる。I/Oは行わない。
func (s *Store) URLFor(key string) string {
	return s.publicURL + "/" + key
}

// KeyFromURL は保存済みの公開URLからキーを取り出す。
// URLのパスから先頭の/と公開URLのパス部分を取り除いたものをキーとする。
func (s *Store) KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid object URL %q: %w", rawURL, err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	if base, err := url.Parse(s.publicURL); err == nil {
		prefix := strings.Trim(base.Path, "/")
		if prefix != "" {
			key = strings.TrimPrefix(key, prefix+"/")
		}
	}
	if key == "" {
		return "", fmt.Errorf("object URL %q has no key", rawURL)
	}
	return key, nil
}

// ValidateConnection はバケットへ到達できることを確認する。起動時に1度だけ呼ぶ。
func (s *Store) ValidateConnection(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("object storage bucket %q is not reachable: %w", s.bucket, err)
	}
	return nil
}

// ContentTypeFor は拡張子に対応するMIMEタイプを返す。未知の拡張子はapplication/octet-stream。
func ContentTypeFor(ext string) string {
	if ct, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return defaultContentType
}

// generateKey は "folder/base_unixMillis_hex.ext" 形式のキーを生成する。
func (s *Store) generateKey(originalName, ext string, opts PutOptions) (string, error) {
	base := opts.Filename
	if base == "" {
		base = strings.TrimSuffix(path.Base(originalName), path.Ext(originalName))
	} else {
		base = strings.TrimSuffix(base, path.Ext(base))
	}
	base = unsafeKeyChars.ReplaceAllString(base, "_")

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate key suffix: %w", err)
	}

	key := base + "_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + hex.EncodeToString(suffix) + "." + ext
	if folder := sanitizeFolder(opts.Folder); folder != "" {
		key = folder + "/" + key
	}
	return key, nil
}

// sanitizeFolder はフォルダの各セグメントをキーに使える文字に置き換える。
// 空・"."・".." のセグメントは捨てる。
func sanitizeFolder(folder string) string {
	var segments []string
	for _, seg := range strings.Split(folder, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, unsafeKeyChars.ReplaceAllString(seg, "_"))
	}
	return strings.Join(segments, "/")
}

// extensionOf はファイル名の拡張子を小文字で返す。拡張子がない場合はInvalidFileTypeエラー。
func extensionOf(name string) (string, error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return "", model.NewInvalidFileTypeError("File has no extension")
	}
	return strings.ToLower(name[idx+1:]), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// isNotFound はHeadObjectの「存在しない」エラーかを判定する。
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
