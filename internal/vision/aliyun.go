package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"skin-api/internal/config"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
)

var invalidCodePrefixes = []string{"InvalidParameter", "InvalidImage", "InvalidFile", "InvalidUrl"}

type apiCaller interface {
	CallApi(params *openapi.Params, request *openapi.OpenApiRequest, runtime *service.RuntimeOptions) (map[string]interface{}, error)
}

// AliyunDetector calls DetectSkinDisease on the Aliyun image process
// service through the generic OpenAPI client
type AliyunDetector struct {
	client  apiCaller
	orgID   string
	orgName string
	runtime *service.RuntimeOptions
}

func NewAliyunDetector(cfg *config.Vision) (*AliyunDetector, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("vision access key id and secret are required")
	}
	if cfg.OrgID == "" {
		return nil, errors.New("vision org id is required")
	}
	client, err := openapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(config.EndpointHost(cfg.Endpoint)),
	})
	if err != nil {
		return nil, fmt.Errorf("init vision client: %w", err)
	}
	return newAliyunDetector(client, cfg), nil
}

func newAliyunDetector(client apiCaller, cfg *config.Vision) *AliyunDetector {
	runtime := &service.RuntimeOptions{Autoretry: tea.Bool(false)}
	if cfg.Timeout > 0 {
		runtime.ReadTimeout = tea.Int(int(cfg.Timeout.Milliseconds()))
	}
	return &AliyunDetector{
		client:  client,
		orgID:   cfg.OrgID,
		orgName: cfg.OrgName,
		runtime: runtime,
	}
}

type callResult struct {
	res map[string]interface{}
	err error
}

// DetectSkinDisease returns the response Data object. The underlying call is
// not interruptible; on ctx expiry it keeps running and its result is dropped.
func (d *AliyunDetector) DetectSkinDisease(ctx context.Context, imageURL string) (any, error) {
	params := &openapi.Params{
		Action:      tea.String("DetectSkinDisease"),
		Version:     tea.String("2020-03-20"),
		Protocol:    tea.String("HTTPS"),
		Pathname:    tea.String("/"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		ReqBodyType: tea.String("formData"),
		BodyType:    tea.String("json"),
	}
	query := map[string]*string{
		"Url":   tea.String(imageURL),
		"OrgId": tea.String(d.orgID),
	}
	if d.orgName != "" {
		query["OrgName"] = tea.String(d.orgName)
	}
	req := &openapi.OpenApiRequest{Query: query}

	done := make(chan callResult, 1)
	go func() {
		res, err := d.client.CallApi(params, req, d.runtime)
		done <- callResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, translateSDKError(r.err)
		}
		return responseData(r.res)
	}
}

func responseData(res map[string]interface{}) (any, error) {
	body, ok := res["body"].(map[string]interface{})
	if !ok {
		return nil, &ServiceError{Message: "response has no body"}
	}
	if data, ok := body["Data"]; ok {
		return data, nil
	}
	return body, nil
}

func translateSDKError(err error) error {
	var sdkErr *tea.SDKError
	if !errors.As(err, &sdkErr) {
		return &ServiceError{Message: err.Error(), Err: err}
	}
	serr := &ServiceError{
		Code:       tea.StringValue(sdkErr.Code),
		Message:    tea.StringValue(sdkErr.Message),
		StatusCode: tea.IntValue(sdkErr.StatusCode),
		Err:        err,
	}
	serr.Recommend = recommendation(tea.StringValue(sdkErr.Data))
	for _, prefix := range invalidCodePrefixes {
		if strings.HasPrefix(serr.Code, prefix) {
			serr.Invalid = true
		}
	}
	if serr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(serr.Code), "url") {
		serr.Invalid = true
	}
	return serr
}

func recommendation(data string) string {
	if data == "" {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return ""
	}
	rec, _ := parsed["Recommend"].(string)
	return rec
}
