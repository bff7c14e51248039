package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultTable はユーザーを保存するDynamoDBテーブルの既定名。
const DefaultTable = "notification-users"

// dynamoAPI はDynamoStoreが使用するDynamoDBクライアントの操作。
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoConfig はDynamoStoreの接続設定。
type DynamoConfig struct {
	// Table はユーザーを保存するテーブル名。パーティションキーは数値型の id。
	Table string
	// Region はテーブルのリージョン。
	Region string
	// Endpoint はDynamoDB Local等のエンドポイント。空の場合はAWSを使用する。
	Endpoint string
}

// DynamoStore はDynamoDBをバックエンドとするユーザーレジストリ。
type DynamoStore struct {
	client dynamoAPI
	table  string
}

// NewDynamoStore は設定からDynamoDBクライアントを生成し、DynamoStoreを返す。
func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("AWS設定の読み込みに失敗: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newDynamoStore(client, cfg.Table), nil
}

func newDynamoStore(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

// Exists はIDのユーザーが登録済みかを返す。
func (s *DynamoStore) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert はユーザーを登録する。
// attribute_not_exists(id) の条件付き書き込みで、既存IDの上書きを防ぐ。
func (s *DynamoStore) Insert(ctx context.Context, u User) error {
	item := idKey(u.ID)
	item["name"] = &types.AttributeValueMemberS{Value: u.Name}
	item["email"] = &types.AttributeValueMemberS{Value: u.Email}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// Delete はユーザーを削除し、削除前に存在していたかを返す。
func (s *DynamoStore) Delete(ctx context.Context, id int64) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          idKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	return len(out.Attributes) > 0, nil
}

// Get はIDのユーザーを返す。
func (s *DynamoStore) Get(ctx context.Context, id int64) (User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if len(out.Item) == 0 {
		return User{}, ErrNotFound
	}
	return decodeUser(out.Item)
}

// decodeUser はDynamoDBのアイテムをUserに変換する。
func decodeUser(item map[string]types.AttributeValue) (User, error) {
	idAttr, ok := item["id"].(*types.AttributeValueMemberN)
	if !ok {
		return User{}, errors.New("アイテムに数値型のidがありません")
	}
	id, err := strconv.ParseInt(idAttr.Value, 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("idの解析に失敗: %w", err)
	}
	u := User{ID: id}
	if v, ok := item["name"].(*types.AttributeValueMemberS); ok {
		u.Name = v.Value
	}
	if v, ok := item["email"].(*types.AttributeValueMemberS); ok {
		u.Email = v.Value
	}
	return u, nil
}
