package service

import (
	"context"

	"trademall/internal/config"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"
	"trademall/pkg/idgen"

	"gorm.io/gorm"
)

// ProductService 产品目录和会员等级管理（管理端）
// 图片本身走 handler 的上传接口落 BlobStore，这里只管 URL 字段
type ProductService struct {
	db          *gorm.DB
	cfg         *config.Config
	productRepo *repository.ProductRepository
	levelRepo   *repository.LevelRepository
}

func NewProductService(db *gorm.DB, cfg *config.Config) *ProductService {
	return &ProductService{
		db:          db,
		cfg:         cfg,
		productRepo: repository.NewProductRepository(db),
		levelRepo:   repository.NewLevelRepository(db),
	}
}

type CreateProductRequest struct {
	Name       string
	ImageURL   string
	Price      float64
	Commission float64
	Rating     float64
}

func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*model.Product, error) {
	if req.Price <= 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "产品价格必须大于 0")
	}
	if req.Commission < 0 || req.Commission > 100 {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "佣金率必须在 0 到 100 之间")
	}

	productID, err := s.generateProductID(ctx)
	if err != nil {
		return nil, err
	}

	rating := req.Rating
	if rating == 0 {
		rating = 5.0
	}
	product := &model.Product{
		ProductID:  productID,
		Name:       req.Name,
		ImageURL:   req.ImageURL,
		Price:      req.Price,
		Commission: req.Commission,
		Rating:     rating,
		Status:     model.ProductStatusActive,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) generateProductID(ctx context.Context) (string, error) {
	for {
		id := idgen.RandomID("PRD", 32)
		exists, err := s.productRepo.ExistsProductID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

type UpdateProductRequest struct {
	Name       *string
	ImageURL   *string
	Price      *float64
	Commission *float64
	Rating     *float64
	Status     *string
}

// UpdateProduct 编辑产品
// 只影响之后生成的订单，已生成订单持有价格/佣金率快照
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req *UpdateProductRequest) error {
	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.ImageURL != nil {
		fields["image_url"] = *req.ImageURL
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return apperr.Wrap(apperr.ErrInvalidState, "产品价格必须大于 0")
		}
		fields["price"] = *req.Price
	}
	if req.Commission != nil {
		if *req.Commission < 0 || *req.Commission > 100 {
			return apperr.Wrap(apperr.ErrInvalidState, "佣金率必须在 0 到 100 之间")
		}
		fields["commission"] = *req.Commission
	}
	if req.Rating != nil {
		fields["rating"] = *req.Rating
	}
	if req.Status != nil {
		if *req.Status != model.ProductStatusActive && *req.Status != model.ProductStatusInactive {
			return apperr.Wrap(apperr.ErrInvalidState, "未知的产品状态: %s", *req.Status)
		}
		fields["status"] = *req.Status
	}
	if len(fields) == 0 {
		return nil
	}
	return s.productRepo.Updates(ctx, id, fields)
}

// DeactivateProduct 下架产品（软删除，不碰已引用它的订单）
func (s *ProductService) DeactivateProduct(ctx context.Context, id int64) error {
	return s.productRepo.Updates(ctx, id, map[string]interface{}{
		"status": model.ProductStatusInactive,
	})
}

func (s *ProductService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.productRepo.GetByID(ctx, nil, id)
}

func (s *ProductService) ListProducts(ctx context.Context, page, pageSize int) ([]*model.Product, int64, error) {
	return s.productRepo.List(ctx, page, pageSize)
}

// ListActiveProducts 客户侧目录浏览，只展示上架产品
func (s *ProductService) ListActiveProducts(ctx context.Context) ([]*model.Product, error) {
	return s.productRepo.ListActive(ctx)
}

// ============================================================
// 会员等级
// ============================================================

type LevelRequest struct {
	Name              string
	CommissionRate    float64
	WithdrawalFeeRate float64
	MinWithdrawal     float64
	MaxWithdrawal     float64
	ReferralRate      float64
}

func (s *ProductService) CreateLevel(ctx context.Context, req *LevelRequest) (*model.Level, error) {
	level := &model.Level{
		Name:              req.Name,
		CommissionRate:    req.CommissionRate,
		WithdrawalFeeRate: req.WithdrawalFeeRate,
		MinWithdrawal:     req.MinWithdrawal,
		MaxWithdrawal:     req.MaxWithdrawal,
		ReferralRate:      req.ReferralRate,
	}
	if err := s.levelRepo.Create(ctx, level); err != nil {
		return nil, err
	}
	return level, nil
}

func (s *ProductService) UpdateLevel(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return s.levelRepo.Updates(ctx, id, fields)
}

func (s *ProductService) ListLevels(ctx context.Context) ([]*model.Level, error) {
	return s.levelRepo.List(ctx)
}
