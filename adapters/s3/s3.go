package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ImagePath 組出刊登圖片在儲存桶內的物件路徑
func ImagePath(ownerUID, assetID string) string {
	return fmt.Sprintf("images/%s/%s", ownerUID, assetID)
}

type S3Operator struct {
	// Client 是 S3 客戶端。
	Client *s3.Client
	// Bucket 是 S3 存儲桶的名稱。
	Bucket string
	// PublicEndpoint 是 S3 存儲桶的公開 Endpoint。
	PublicEndpoint *url.URL
}

func NewS3Operator(client *s3.Client, bucket, publicBaseURL string) (*S3Operator, error) {
	const op = "NewS3Operator"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &S3Operator{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// UploadImage 將圖片內容寫入 images/{ownerUID}/{assetID}，回傳公開讀取的 URL
func (s *S3Operator) UploadImage(ctx context.Context, ownerUID, assetID, contentType string, fileContent []byte) (string, error) {
	const op = "UploadImage"
	path := ImagePath(ownerUID, assetID)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(fileContent),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload image to S3, err=%w", op, err)
	}
	uri := *s.PublicEndpoint
	uri.Path = path
	return uri.String(), nil
}

// DeleteImage 刪除 images/{ownerUID}/{assetID} 的物件
// 物件不存在時 S3 視為成功，呼叫端不需要額外區分
func (s *S3Operator) DeleteImage(ctx context.Context, ownerUID, assetID string) error {
	const op = "DeleteImage"
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(ImagePath(ownerUID, assetID)),
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to delete image from S3, err=%w", op, err)
	}
	return nil
}
