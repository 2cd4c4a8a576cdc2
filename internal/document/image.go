package document

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg" // 注册JPEG解码器
	"image/png"
)

// DecodeImage 解码上传的图片字节流
// 支持PNG和JPEG，解码失败是硬错误（无效上传）
func DecodeImage(data []byte, name string) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, NewDecodeError(name, string(Image), err.Error())
	}
	return img, nil
}

// EncodeImageBase64 将图片编码为base64字符串
// 统一转为PNG格式，供多模态模型的images字段使用
func EncodeImageBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
